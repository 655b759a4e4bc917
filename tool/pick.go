package tool

// Pick returns the tools enabled for a request.
//
// Without an assistant, a tool is enabled when it is locked on, when the user
// preference enables it, or when it is on by default and the user expressed
// no preference. With an assistant, only assistant-safe tools and the tools
// named in preference are offered.
func Pick(reg *Registry, preference map[string]bool, hasAssistant bool) []*Tool {
	if reg == nil {
		return nil
	}
	var picked []*Tool
	for _, t := range reg.List() {
		if hasAssistant {
			if t.AssistantSafe || preference[t.Name] {
				picked = append(picked, t)
			}
			continue
		}
		if t.Locked && t.OnByDefault {
			picked = append(picked, t)
			continue
		}
		if enabled, ok := preference[t.Name]; ok {
			if enabled {
				picked = append(picked, t)
			}
			continue
		}
		if t.OnByDefault {
			picked = append(picked, t)
		}
	}
	return picked
}
