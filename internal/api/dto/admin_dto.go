package dto

// SweepResponse reports a manual session sweep.
type SweepResponse struct {
	Removed int `json:"removed"`
}

// CatalogResponse summarizes the tracker catalog after a refresh.
type CatalogResponse struct {
	Statuses  int `json:"statuses"`
	Assignees int `json:"assignees"`
}
