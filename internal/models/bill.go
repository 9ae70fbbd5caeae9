package models

// BillRecord is one row of the legislature's project listing. Records
// carry no identity across scrapes; every scrape replaces the list.
type BillRecord struct {
	Number string `json:"numero"`
	Title  string `json:"titulo"`
	Status string `json:"estado"`
	Link   string `json:"enlace"`
}
