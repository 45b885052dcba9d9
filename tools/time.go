// Time tool
package tools

import (
	"fmt"
	"time"
)

// CurrentTimeTool reports the current date and time
type CurrentTimeTool struct{}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time, optionally in a given IANA timezone."
}

func (t *CurrentTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone, e.g. Europe/Berlin (default UTC)",
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(args map[string]interface{}) (interface{}, error) {
	loc := time.UTC
	if tz := GetString(args, "timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone: %s", tz)
		}
		loc = l
	}
	return time.Now().In(loc).Format("Monday, 2 January 2006 15:04:05 MST"), nil
}
