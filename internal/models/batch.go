package models

import (
	"strconv"
	"time"
)

// RenderStatus is the state of one item in a batch run.
type RenderStatus string

const (
	StatusPending    RenderStatus = "pending"
	StatusProcessing RenderStatus = "processing"
	StatusSuccess    RenderStatus = "success"
	StatusFailed     RenderStatus = "failed"
	StatusCancelled  RenderStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s RenderStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// RenderResult tracks one label through a batch run.
type RenderResult struct {
	Index    int          `json:"index"`
	Model    LabelModel   `json:"model"`
	Status   RenderStatus `json:"status"`
	Document []byte       `json:"-"`
	Err      error        `json:"-"`
}

// Error returns the recorded error message, or "".
func (r RenderResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchRun is one caller-initiated group of renders.
type BatchRun struct {
	Total      int            `json:"total"`
	Results    []RenderResult `json:"results"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Counts scans the results.
func (b *BatchRun) Counts() (successful, failed, cancelled int) {
	for _, r := range b.Results {
		switch r.Status {
		case StatusSuccess:
			successful++
		case StatusFailed:
			failed++
		case StatusCancelled:
			cancelled++
		}
	}
	return successful, failed, cancelled
}

// Successful returns the successful results in submission order.
func (b *BatchRun) Successful() []RenderResult {
	out := make([]RenderResult, 0, len(b.Results))
	for _, r := range b.Results {
		if r.Status == StatusSuccess {
			out = append(out, r)
		}
	}
	return out
}

// Documents returns the successful documents in submission order.
func (b *BatchRun) Documents() [][]byte {
	ok := b.Successful()
	docs := make([][]byte, len(ok))
	for i, r := range ok {
		docs[i] = r.Document
	}
	return docs
}

// Errors returns "<pallet>: <message>" for every failed item.
func (b *BatchRun) Errors() []string {
	var errs []string
	for _, r := range b.Results {
		if r.Status != StatusFailed {
			continue
		}
		label := r.Model.PalletNumber()
		if r.Model.Identifier.IsZero() {
			label = "item " + strconv.Itoa(r.Index+1)
		}
		errs = append(errs, label+": "+r.Error())
	}
	return errs
}

// Finished reports whether every item reached a terminal state.
func (b *BatchRun) Finished() bool {
	return !b.FinishedAt.IsZero()
}
