package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/store"
)

var badgeColors = map[types.Status]string{
	types.StatusHealthy: "#3fb950",
	types.StatusSick:    "#d29922",
	types.StatusDead:    "#e5534b",
}

const iconBadge = `<svg xmlns="http://www.w3.org/2000/svg" width="16" height="16" viewBox="0 0 16 16">` +
	`<title>%[1]s</title><circle cx="8" cy="8" r="7" fill="%[2]s"/></svg>`

// defaultBadge is a flat two-part label: "status" on the left, the global
// status on the right. Widths assume ~7px per character at 11px.
const defaultBadge = `<svg xmlns="http://www.w3.org/2000/svg" width="%[3]d" height="20">` +
	`<title>status: %[1]s</title>` +
	`<rect width="44" height="20" fill="#555"/>` +
	`<rect x="44" width="%[4]d" height="20" fill="%[2]s"/>` +
	`<g fill="#fff" font-family="Verdana,Geneva,sans-serif" font-size="11">` +
	`<text x="6" y="14">status</text><text x="50" y="14">%[1]s</text></g></svg>`

// badge returns GET /badge/{kind}: an SVG of the global status. Kinds are
// "icon" and "default".
func (h *Handler) badge(w http.ResponseWriter, r *http.Request) {
	var status types.Status
	h.store.View(func(s *store.ServiceStates, _ time.Time) {
		status = s.Status
	})

	svg, ok := renderBadge(r.PathValue("kind"), status)
	if !ok {
		jsonErr(w, http.StatusNotFound, "unknown badge kind")
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write([]byte(svg)) //nolint:errcheck
}

func renderBadge(kind string, status types.Status) (string, bool) {
	label := status.String()
	color := badgeColors[status]

	switch kind {
	case "icon":
		return fmt.Sprintf(iconBadge, label, color), true
	case "default":
		valueWidth := 12 + 7*len(label)
		return fmt.Sprintf(defaultBadge, label, color, 44+valueWidth, valueWidth), true
	default:
		return "", false
	}
}
