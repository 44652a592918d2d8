package model

// RowError records a non-fatal failure of a single CSV data row.
type RowError struct {
	// Row is the physical line number in the uploaded file (header is line 1
	// when the file has no leading blank lines).
	Row     int      `json:"row"`
	Message string   `json:"error"`
	Data    []string `json:"data"`
}

// Results accumulates the outcome of one import run. Processed always equals
// Created + Updated + Skipped: only successful upserts are counted as
// processed, row failures are counted in Failed.
type Results struct {
	Processed       int        `json:"processed"`
	Created         int        `json:"created"`
	Updated         int        `json:"updated"`
	Skipped         int        `json:"skipped"`
	Superseded      int        `json:"superseded"`
	Failed          int        `json:"failed"`
	Errors          []RowError `json:"errors"`
	ErrorsTruncated bool       `json:"errorsTruncated,omitempty"`
}

func (r Results) clone() Results {
	out := r
	if r.Errors != nil {
		out.Errors = make([]RowError, len(r.Errors))
		for i, e := range r.Errors {
			e.Data = append([]string(nil), e.Data...)
			out.Errors[i] = e
		}
	}
	return out
}
