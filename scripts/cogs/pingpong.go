// Package pingpong is an example script cog. Script cogs are plain Go files
// interpreted at runtime from the CogScriptDir directory. Each script exports
// Meta, returning at least a name and version, and OnMessage, which receives
// a message payload and may return an action map with a "reply" string or a
// "delete" flag.
package pingpong

import "strings"

func Meta() map[string]interface{} {
	return map[string]interface{}{
		"name":    "pingpong",
		"version": "0.1.0",
	}
}

func OnMessage(payload map[string]interface{}) map[string]interface{} {
	content, _ := payload["content"].(string)
	if strings.EqualFold(strings.TrimSpace(content), "kanari ping") {
		return map[string]interface{}{"reply": "pong 🏓"}
	}
	return nil
}
