package dissect

import (
	"fmt"
	"sync"

	"github.com/moffa90/go-bk7231/crypt"
	"github.com/moffa90/go-bk7231/flashimg"
	"github.com/moffa90/go-bk7231/rbl"
)

// Summary describes a container without extracting it.
type Summary struct {
	Offset    int
	Name      string
	Version   string
	Algorithm crypt.Algorithm
	Size      int
	PayloadOK bool
}

func summarize(c *rbl.Container) Summary {
	return Summary{
		Offset:    c.Offset,
		Name:      c.Header.Name,
		Version:   c.Header.Version,
		Algorithm: c.Header.Algorithm,
		Size:      len(c.Payload),
		PayloadOK: c.VerifyPayload(),
	}
}

// List returns a summary of every container in the image.
func List(img *flashimg.Image, opts ...Option) []Summary {
	cfg := newConfig(opts)

	var out []Summary
	for c := range rbl.NewScanner(img.Bytes(), rbl.WithSkipChecksum(cfg.SkipHeaderChecksum)).All() {
		out = append(out, summarize(c))
	}
	return out
}

// CarveResult is the outcome of carving a partition without an RBL header.
type CarveResult struct {
	Partition Partition

	// Size is the number of payload bytes recovered
	Size int

	Artifacts []Artifact
	Warnings  []error
	Err       error
}

// Report is the outcome of a dissection run.
type Report struct {
	// Layout is the name of the flash layout used
	Layout string

	// Results holds one entry per container, in offset order
	Results []Result

	// Carved holds one entry per layout partition without a container
	Carved []CarveResult

	// Rejected holds the magic matches the scanner did not accept
	Rejected []*rbl.MalformedContainerError
}

// Summaries returns the summary of every container found.
func (r *Report) Summaries() []Summary {
	out := make([]Summary, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, summarize(res.Container))
	}
	return out
}

// Failed returns the number of containers and carved partitions that
// produced no artifact.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	for _, c := range r.Carved {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Dissect finds every container of the image and extracts them concurrently
// with at most Config.Workers workers. Partitions of the layout that have no
// container are then recovered with Carve.
//
// Failures are recorded per container in the report and never stop the run;
// the returned error is reserved for setup failures such as an output
// directory that cannot be created.
//
// Example:
//
//	img, err := flashimg.Open("dump.bin")
//	if err != nil {
//	    return err
//	}
//	defer img.Close()
//
//	report, err := dissect.Dissect(img,
//	    dissect.WithOutputDir("out"),
//	    dissect.WithFilePrefix("dump"),
//	)
func Dissect(img *flashimg.Image, opts ...Option) (*Report, error) {
	cfg := newConfig(opts)
	x := newExtractor(cfg)
	if err := x.prepare(); err != nil {
		return nil, err
	}

	report := &Report{Layout: cfg.Layout.Name}
	scanner := rbl.NewScanner(img.Bytes(),
		rbl.WithSkipChecksum(cfg.SkipHeaderChecksum),
		rbl.WithRejectHook(func(e *rbl.MalformedContainerError) {
			x.logDebugf("%v", e)
			report.Rejected = append(report.Rejected, e)
		}),
	)

	// enumeration is sequential, extraction is not
	containers := scanner.Containers()
	x.logInfof("found %d container(s), %d rejected candidate(s)", len(containers), len(report.Rejected))

	labels := fileLabels(containers)
	report.Results = make([]Result, len(containers))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(cfg.Workers, len(containers)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Results[i] = x.extract(containers[i], labels[i], img)
			}
		}()
	}
	for i := range containers {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	found := make(map[string]bool, len(containers))
	for _, c := range containers {
		found[c.Header.Name] = true
	}
	for _, p := range cfg.Layout.Partitions {
		if !found[p.Name] {
			x.logInfof("no container for %s, carving 0x%X+0x%X", p.Name, p.Start, p.Size)
			report.Carved = append(report.Carved, x.carve(img, p))
		}
	}

	return report, nil
}

// carve recovers a partition and writes its artifacts.
func (x *extractor) carve(img *flashimg.Image, p Partition) CarveResult {
	r := CarveResult{Partition: p}

	data, err := Carve(img, p)
	if err != nil {
		x.logWarnf("%v", err)
		r.Err = err
		return r
	}
	r.Size = len(data)

	a, err := x.write(p.Name, KindCarved, x.fileName(p.Name, "_pattern_scan.bin"), data)
	if err != nil {
		r.Err = err
		return r
	}
	r.Artifacts = append(r.Artifacts, a)

	if x.cfg.Registry.Encrypted(p.Name) {
		plain, err := x.cfg.Registry.Decrypt(p.Name, crypt.EncryptNone, pad(data), p.MappedAddress)
		if err != nil {
			r.Warnings = append(r.Warnings, err)
		} else if a, err := x.write(p.Name, KindDecrypted, x.fileName(p.Name, "_pattern_scan_decrypted.bin"), plain); err != nil {
			r.Warnings = append(r.Warnings, err)
		} else {
			r.Artifacts = append(r.Artifacts, a)
		}
	}

	return r
}

// fileLabels returns the output file label of each container: its partition
// name, suffixed with the offset when several containers share the name.
func fileLabels(cs []*rbl.Container) []string {
	count := make(map[string]int, len(cs))
	for _, c := range cs {
		count[c.Header.Name]++
	}

	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Header.Name
		if count[c.Header.Name] > 1 {
			out[i] = fmt.Sprintf("%s_0x%X", c.Header.Name, c.Offset)
		}
	}
	return out
}
