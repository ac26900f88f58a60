package discovery

import "testing"

func TestIsAppleTV(t *testing.T) {
	cases := []struct {
		model string
		want  bool
	}{
		{"AppleTV6,2", true},
		{"atv4k", true},
		{"iPhone14,5", false},
		{"", false},
	}
	for _, c := range cases {
		r := Result{TxtRecord: map[string]string{"model": c.model}}
		if got := IsAppleTV(r); got != c.want {
			t.Errorf("IsAppleTV(model=%q) = %v, want %v", c.model, got, c.want)
		}
	}
}

func TestToDescriptor(t *testing.T) {
	r := Result{
		Name:    "Living Room",
		Address: "10.0.0.5",
		Port:    49152,
		TxtRecord: map[string]string{
			"rpMac": "AA:BB:CC:DD:EE:FF",
			"model": "AppleTV6,2",
		},
	}
	d := ToDescriptor(r)
	if d.Identifier != "AA:BB:CC:DD:EE:FF" || d.Name != "Living Room" || d.Address != "10.0.0.5" || d.Port != 49152 || d.Model != "AppleTV6,2" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}
