package lib

// NopTelemetry discards everything.
type NopTelemetry struct{}

func (NopTelemetry) LogParams([]string, []any) {}
func (NopTelemetry) Print(string)              {}

// MultiTelemetry fans every call out to each sink.
type MultiTelemetry []Telemetry

func (m MultiTelemetry) LogParams(names []string, values []any) {
	for _, t := range m {
		t.LogParams(names, values)
	}
}

func (m MultiTelemetry) Print(message string) {
	for _, t := range m {
		t.Print(message)
	}
}
