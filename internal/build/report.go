package build

import "fmt"

// Mode identifies which backend family produced a report.
type Mode string

const (
	ModeTemplate Mode = "template"
	ModeHelm     Mode = "helm"
)

// Entry pairs a work item with its outcome.
type Entry struct {
	Item   WorkItem `json:"item"`
	Result Result   `json:"result"`
}

// Report is the ordered outcome of a batch: one entry per submitted item,
// in submission order regardless of completion order.
type Report struct {
	Mode    Mode     `json:"mode"`
	DTs     []string `json:"dt_list"`
	Target  *Target  `json:"target,omitempty"` // set for helm batches
	Entries []Entry  `json:"build_details"`
}

// Total returns the number of entries.
func (r *Report) Total() int {
	return len(r.Entries)
}

// SuccessCount returns the number of successful entries.
func (r *Report) SuccessCount() int {
	n := 0
	for _, e := range r.Entries {
		if e.Result.OK() {
			n++
		}
	}
	return n
}

// FailureCount returns the number of failed entries.
func (r *Report) FailureCount() int {
	return r.Total() - r.SuccessCount()
}

// OK reports whether every entry succeeded.
func (r *Report) OK() bool {
	return r.FailureCount() == 0
}

// Successful returns the labels of successful entries in report order.
func (r *Report) Successful() []string {
	return r.labels(true)
}

// Failed returns the labels of failed entries in report order.
func (r *Report) Failed() []string {
	return r.labels(false)
}

func (r *Report) labels(ok bool) []string {
	out := []string{}
	for _, e := range r.Entries {
		if e.Result.OK() == ok {
			out = append(out, e.Item.Label())
		}
	}
	return out
}

// CountKind returns how many entries failed with the given kind.
func (r *Report) CountKind(kind ErrorKind) int {
	n := 0
	for _, e := range r.Entries {
		if !e.Result.OK() && e.Result.Kind == kind {
			n++
		}
	}
	return n
}

// Message summarises the batch outcome.
func (r *Report) Message() string {
	prefix := "Batch build"
	if r.Mode == ModeHelm {
		prefix = "Batch helm build"
	}
	success, failure := r.SuccessCount(), r.FailureCount()
	switch {
	case r.Total() == 0:
		return prefix + " completed, nothing to build"
	case failure == 0:
		return fmt.Sprintf("%s completed: all %d builds succeeded", prefix, success)
	case success == 0:
		return fmt.Sprintf("%s failed: all %d builds failed", prefix, failure)
	default:
		return fmt.Sprintf("%s partially succeeded: %d succeeded, %d failed", prefix, success, failure)
	}
}

// Detail is the flattened JSON view of one entry.
type Detail struct {
	DT          string    `json:"dt"`
	Region      string    `json:"region,omitempty"`
	Env         string    `json:"env_name,omitempty"`
	Cluster     string    `json:"cluster_name,omitempty"`
	Success     bool      `json:"success"`
	BuildDir    string    `json:"build_dir,omitempty"`
	SchemaFiles []string  `json:"schema_files,omitempty"`
	Stdout      string    `json:"stdout,omitempty"`
	Location    string    `json:"location,omitempty"`
	Kind        ErrorKind `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Summary is the wire form of a report returned to callers.
type Summary struct {
	Success       bool     `json:"success"`
	TotalDTs      int      `json:"total_dts"`
	SuccessfulDTs []string `json:"successful_dts"`
	FailedDTs     []string `json:"failed_dts"`
	SuccessCount  int      `json:"success_count"`
	FailureCount  int      `json:"failure_count"`
	Region        string   `json:"region,omitempty"`
	Env           string   `json:"env_name,omitempty"`
	Cluster       string   `json:"cluster_name,omitempty"`
	BuildDetails  []Detail `json:"build_details"`
	Message       string   `json:"message"`
}

// Summary flattens the report for JSON output. Entry labels stand in for dt
// names in successful_dts and failed_dts, since a template dt fans out into
// one entry per target.
func (r *Report) Summary() Summary {
	s := Summary{
		Success:       r.OK(),
		TotalDTs:      len(r.DTs),
		SuccessfulDTs: r.Successful(),
		FailedDTs:     r.Failed(),
		SuccessCount:  r.SuccessCount(),
		FailureCount:  r.FailureCount(),
		BuildDetails:  make([]Detail, 0, len(r.Entries)),
		Message:       r.Message(),
	}
	if r.Target != nil {
		s.Region, s.Env, s.Cluster = r.Target.Region, r.Target.Env, r.Target.Cluster
	}

	for _, e := range r.Entries {
		d := Detail{
			DT:      e.Item.DT,
			Region:  e.Item.Target.Region,
			Env:     e.Item.Target.Env,
			Cluster: e.Item.Target.Cluster,
			Success: e.Result.OK(),
			Kind:    e.Result.Kind,
			Error:   e.Result.Message,
		}
		if a := e.Result.Artifact; a != nil {
			d.BuildDir = a.Dir
			d.SchemaFiles = a.Files
			d.Stdout = a.Output
			d.Location = a.Location
		}
		s.BuildDetails = append(s.BuildDetails, d)
	}
	return s
}
