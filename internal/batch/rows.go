package batch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/redact"
	"github.com/krishanraja/mindmaker-sub000/internal/worker"
)

// Row is the stable output schema for an enriched batch file.
type Row struct {
	Input       string
	SubjectKey  string
	CompanyName string
	Industry    string
	CompanySize string
	Region      string
	Description string
	Confidence  string
	Source      string
	Provider    string
	Status      string
	Error       string
}

// Resolver is satisfied by *enrich.Pipeline.
type Resolver interface {
	Resolve(ctx context.Context, subjectKey string) enrich.Record
}

type Options struct {
	Workers      int
	ItemTimeout  time.Duration
	RateLimitRPS float64
	FailFast     bool

	// OnRow, when set, receives rows in completion order while the run is
	// still going. Returning an error stops the run.
	OnRow func(Row) error
}

var errEmptyKey = errors.New("empty subject key")

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"input",
		"subject_key",
		"company_name",
		"industry",
		"company_size",
		"region",
		"description",
		"confidence",
		"source",
		"provider",
		"status",
		"error",
	}
}

func (r Row) values() []string {
	return []string{
		r.Input,
		r.SubjectKey,
		r.CompanyName,
		r.Industry,
		r.CompanySize,
		r.Region,
		r.Description,
		r.Confidence,
		r.Source,
		r.Provider,
		r.Status,
		r.Error,
	}
}

// Resolve runs every input through the resolver and returns rows in input order.
//
// Resolution itself never fails; only blank inputs produce error rows, and
// with FailFast the first of those stops the run.
func Resolve(ctx context.Context, inputs []string, resolver Resolver, opts Options) ([]Row, error) {
	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}

	processor := func(reqCtx context.Context, raw string) (enrich.Record, error) {
		if enrich.NormalizeKey(raw) == "" {
			return enrich.Record{}, errEmptyKey
		}
		return resolver.Resolve(reqCtx, raw), nil
	}

	var onResult func(worker.Result[string, enrich.Record]) error
	if opts.OnRow != nil {
		onResult = func(res worker.Result[string, enrich.Record]) error {
			return opts.OnRow(toRow(res))
		}
	}

	out, err := worker.ProcessAllWithCallback(ctx, inputs, processor, onResult, worker.Options{
		Workers:       opts.Workers,
		ItemTimeout:   opts.ItemTimeout,
		RateLimitRPS:  opts.RateLimitRPS,
		FailurePolicy: policy,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(out))
	for _, item := range out {
		rows = append(rows, toRow(item))
	}
	return rows, nil
}

func toRow(item worker.Result[string, enrich.Record]) Row {
	in := strings.TrimSpace(item.Input)
	if item.Err != nil {
		return Row{
			Input:  in,
			Status: "error",
			Error:  redact.Secrets(item.Err.Error()),
		}
	}
	rec := item.Output
	return Row{
		Input:       in,
		SubjectKey:  rec.SubjectKey,
		CompanyName: rec.CompanyName,
		Industry:    rec.Industry,
		CompanySize: rec.CompanySize,
		Region:      rec.Region,
		Description: rec.Description,
		Confidence:  string(rec.Confidence),
		Source:      string(rec.Source),
		Provider:    rec.Provider,
		Status:      "ok",
	}
}
