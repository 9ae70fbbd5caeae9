package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"log"
)

// ToolName is the function name registered with the assistant.
const ToolName = "obtener_propuestas_recientes_congreso"

const recentProposalsLimit = 5

type proposal struct {
	Number string `json:"numero"`
	Title  string `json:"titulo"`
}

// RecentProposals is the assistant-facing view of the scraper. It
// always returns a JSON envelope, never an error: the model is expected
// to relay whatever it gets.
func (s *Scraper) RecentProposals(ctx context.Context) string {
	bills, err := s.Scrape(ctx, recentProposalsLimit)
	if err != nil {
		log.Printf("scraper tool: %v", err)
		msg := "No fue posible consultar los proyectos de ley en este momento."
		if errors.Is(err, ErrParse) {
			msg = "La página de la Cámara cambió de formato y no pudo ser leída."
		}
		return envelope("error", msg)
	}
	if len(bills) == 0 {
		return envelope("info", "No se encontraron proyectos de ley recientes.")
	}

	proposals := make([]proposal, 0, len(bills))
	for _, b := range bills {
		proposals = append(proposals, proposal{Number: b.Number, Title: b.Title})
	}
	payload, err := json.Marshal(map[string]any{"propuestas": proposals})
	if err != nil {
		return envelope("error", "Error interno al preparar la respuesta.")
	}
	return string(payload)
}

func envelope(kind, msg string) string {
	payload, _ := json.Marshal(map[string]string{kind: msg})
	return string(payload)
}
