package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Metadata keys read from billing objects.
const (
	MetaTeamID         = "team_id"
	MetaTier           = "tier"
	MetaPoolMinutes    = "pool_minutes"
	MetaConcurrencyMax = "concurrency_max"
	MetaOverage        = "overage"
)

// ref is an object reference that may be delivered as an id string or an expanded object.
type ref struct {
	ID       string
	Metadata map[string]string
}

func (r *ref) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID, r.Metadata = obj.ID, obj.Metadata
	return nil
}

type price struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
	Product  ref               `json:"product"`
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           ref               `json:"customer"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price price `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscriptionObject) price() *price {
	if len(s.Items.Data) == 0 {
		return nil
	}
	return &s.Items.Data[0].Price
}

type invoiceObject struct {
	ID                  string `json:"id"`
	Customer            ref    `json:"customer"`
	Subscription        ref    `json:"subscription"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Price *price `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *invoiceObject) price() *price {
	for _, l := range i.Lines.Data {
		if l.Price != nil {
			return l.Price
		}
	}
	return nil
}

func (i *invoiceObject) period() (start, end *time.Time) {
	if len(i.Lines.Data) == 0 {
		return nil, nil
	}
	p := i.Lines.Data[0].Period
	return unixPtr(p.Start), unixPtr(p.End)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// metaLayers looks up keys across metadata maps in priority order.
type metaLayers []map[string]string

func (m metaLayers) get(key string) (string, bool) {
	for _, layer := range m {
		if v, ok := layer[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (m metaLayers) int(key string) (int, bool) {
	v, ok := m.get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (m metaLayers) bool(key string) (bool, bool) {
	v, ok := m.get(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func priceLayers(p *price) metaLayers {
	if p == nil {
		return nil
	}
	return metaLayers{p.Metadata, p.Product.Metadata}
}
