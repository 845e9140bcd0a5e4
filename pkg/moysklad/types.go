package moysklad

import (
	"strings"
	"time"
)

// momentLayout is the timestamp format the remap API uses for document
// moments, Moscow local time.
const momentLayout = "2006-01-02 15:04:05.000"

const assortmentTypeService = "service"

// LineItem is one parsed demand position.
type LineItem struct {
	PositionID string
	Name       string
	UnitPrice  int64
	Quantity   float64
	IsService  bool
}

// Purchase is a parsed shipment document. Amounts are integer minor units.
type Purchase struct {
	ID        string
	AgentID   string
	Sum       int64
	Moment    time.Time
	State     string
	LineItems []LineItem
}

type meta struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

type entityRef struct {
	Meta meta `json:"meta"`
}

type assortment struct {
	Meta meta   `json:"meta"`
	Name string `json:"name"`
}

type position struct {
	ID         string     `json:"id"`
	Quantity   float64    `json:"quantity"`
	Price      float64    `json:"price"`
	Assortment assortment `json:"assortment"`
}

type demandState struct {
	Name string `json:"name"`
}

type demand struct {
	ID        string      `json:"id"`
	Moment    string      `json:"moment"`
	Sum       int64       `json:"sum"`
	Agent     entityRef   `json:"agent"`
	State     demandState `json:"state"`
	Positions struct {
		Rows []position `json:"rows"`
	} `json:"positions"`
}

type demandList struct {
	Rows []demand `json:"rows"`
}

type counterparty struct {
	ID string `json:"id"`
}

type counterpartyList struct {
	Rows []counterparty `json:"rows"`
}

// idFromHref extracts the entity id from a remap API href.
func idFromHref(href string) string {
	if href == "" {
		return ""
	}
	parts := strings.Split(href, "/")
	return parts[len(parts)-1]
}

func (d demand) toPurchase() Purchase {
	p := Purchase{
		ID:      d.ID,
		AgentID: idFromHref(d.Agent.Meta.Href),
		Sum:     d.Sum,
		State:   d.State.Name,
	}
	if d.Moment != "" {
		if ts, err := time.Parse(momentLayout, d.Moment); err == nil {
			p.Moment = ts
		}
	}
	for _, pos := range d.Positions.Rows {
		p.LineItems = append(p.LineItems, LineItem{
			PositionID: pos.ID,
			Name:       pos.Assortment.Name,
			UnitPrice:  int64(pos.Price),
			Quantity:   pos.Quantity,
			IsService:  pos.Assortment.Meta.Type == assortmentTypeService,
		})
	}
	return p
}
