package finding

// Alert is a single finding as returned by core/view/alerts.
// Only Risk drives the verdict; the remaining fields are carried for
// summaries and logs.
type Alert struct {
	ID         string `json:"id"`
	PluginID   string `json:"pluginId"`
	Name       string `json:"alert"`
	Risk       string `json:"risk"`
	Confidence string `json:"confidence"`
	URL        string `json:"url"`
	Method     string `json:"method"`
	Param      string `json:"param"`
	Evidence   string `json:"evidence"`
	CWEID      string `json:"cweid"`
	WASCID     string `json:"wascid"`
}

// Severity returns the parsed risk level.
func (a Alert) Severity() Severity {
	return ParseSeverity(a.Risk)
}

// Severities returns the parsed risk level of every alert, in order.
func Severities(alerts []Alert) []Severity {
	out := make([]Severity, len(alerts))
	for i, a := range alerts {
		out[i] = a.Severity()
	}
	return out
}
