package main

import "testing"

func TestParseShellLine(t *testing.T) {
	cases := []struct {
		in, batch, ack string
		ok             bool
	}{
		{":GVP#", ":GVP#", "", true},
		{"  :GVP  ", ":GVP#", "", true},
		{":U2#:GS", ":U2#:GS#", "", true},
		{".ack 1 :SREF1#", ":SREF1#", "1", true},
		{".ack 1", "", "", false},
		{"", "", "", false},
		{"; comment", "", "", false},
		{".exit", ".quit", "", true},
	}
	for _, c := range cases {
		batch, ack, ok := parseShellLine(c.in)
		if batch != c.batch || ack != c.ack || ok != c.ok {
			t.Errorf("parseShellLine(%q) = %q, %q, %v; want %q, %q, %v", c.in, batch, ack, ok, c.batch, c.ack, c.ok)
		}
	}
}

func TestDescribeCatalog(t *testing.T) {
	payload := []byte(`{"host":"10.0.0.5","port":3490,"up":true,"firmware":{"product":"GM2000","number":"3.1"},"dome":{"type":"tcp","address":"10.0.0.6:502","unitId":1}}`)
	want := `mount 10.0.0.5:3490 up=true firmware="GM2000" 3.1 dome=tcp@10.0.0.6:502`
	if got := describe("mount/catalog", payload); got != want {
		t.Errorf("got %s", got)
	}
	if got := describe("mount/event/dome", []byte(`{}`)); got != "{}" {
		t.Errorf("non-catalog payload altered: %s", got)
	}
}
