package bridge

import (
	"encoding/json"
	"fmt"
)

// eventTypeMap translates the engine's native event names into the
// normalized event vocabulary. Events with an unlisted name keep it.
var eventTypeMap = map[string]string{
	"entry_fill":   "trade_opened",
	"exit_fill":    "trade_closed",
	"entry_cancel": "entry_cancelled",
	"exit_cancel":  "exit_cancelled",
	"protection":   "protection_triggered",
	"warning":      "warning",
}

// eventFieldMap is the fixed field translation table for event payloads.
// Fields not listed here pass through under their original key.
var eventFieldMap = map[string]string{
	"trade_id":      "tradeId",
	"pair":          "symbol",
	"direction":     "side",
	"open_rate":     "entryPrice",
	"close_rate":    "exitPrice",
	"limit":         "price",
	"amount":        "quantity",
	"stake_amount":  "stake",
	"profit_amount": "profit",
	"profit_ratio":  "profitPct",
	"open_date":     "openedAt",
	"close_date":    "closedAt",
	"exit_reason":   "reason",
}

// translateEvent converts one native event payload into the normalized
// schema. It returns the normalized event type and payload.
func translateEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, fmt.Errorf("decode event payload: %w", err)
	}

	native := ""
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &native); err != nil {
			return "", nil, fmt.Errorf("decode event type: %w", err)
		}
		delete(fields, "type")
	}
	if native == "" {
		return "", nil, fmt.Errorf("event payload has no type")
	}

	eventType := native
	if mapped, ok := eventTypeMap[native]; ok {
		eventType = mapped
	}

	normalized := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		if mapped, ok := eventFieldMap[key]; ok {
			key = mapped
		}
		normalized[key] = value
	}

	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", nil, fmt.Errorf("encode normalized payload: %w", err)
	}
	return eventType, payload, nil
}
