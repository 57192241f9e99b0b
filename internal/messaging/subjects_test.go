package messaging

import "testing"

func TestMeasurementsRawSubject(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		host   string
		want   string
	}{
		{name: "default prefix", host: "b.collector.ooni.io", want: "measurements.raw.b.collector.ooni.io"},
		{name: "custom prefix", prefix: "feeds.ooni", host: "c", want: "feeds.ooni.c"},
		{name: "empty host", host: "", want: "measurements.raw.unknown"},
		{name: "wildcards escaped", host: "a*b>c d", want: "measurements.raw.a_b_c_d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MeasurementsRawSubject(tt.prefix, tt.host); got != tt.want {
				t.Errorf("MeasurementsRawSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMeasurementsRawWildcard(t *testing.T) {
	if got := MeasurementsRawWildcard(""); got != "measurements.raw.>" {
		t.Errorf("MeasurementsRawWildcard() = %q", got)
	}
}
