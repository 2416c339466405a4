package connector

import (
	"testing"
)

func TestCLICommand(t *testing.T) {
	tests := []struct {
		path string
		args []string
		want string
	}{
		{"/system/resource", nil, "/system resource print without-paging"},
		{"/interface", nil, "/interface print stats terse without-paging"},
		{"/interface/ethernet", nil, "/interface ethernet print stats terse without-paging"},
		{"/ip/firewall/filter", nil, "/ip firewall filter print stats terse without-paging"},
		{"/interface/wifiwave2/registration-table", nil, "/interface wifiwave2 registration-table print terse without-paging"},
		{"/log", []string{"?topics=system"}, "/log print terse without-paging where topics=system"},
		{"/ip/address/print", nil, "/ip address print terse without-paging"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := cliCommand(tt.path, tt.args); got != tt.want {
				t.Errorf("cliCommand(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseCLIOutput_Terse(t *testing.T) {
	out := "Flags: R - RUNNING; X - DISABLED\r\n" +
		" 0 R  name=ether1 default-name=ether1 type=ether mtu=1500 actual-mtu=1500\r\n" +
		" 1  X name=ether2 type=ether comment=\"uplink to core\"\r\n" +
		" 2    name=bridge type=bridge\r\n"

	recs := ParseCLIOutput(out)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3: %v", len(recs), recs)
	}

	if recs[0]["name"] != "ether1" || recs[0]["running"] != "true" || recs[0]["mtu"] != "1500" {
		t.Errorf("record 0 = %v", recs[0])
	}
	if recs[1]["disabled"] != "true" || recs[1]["running"] != "" {
		t.Errorf("record 1 flags = %v", recs[1])
	}
	if recs[1]["comment"] != "uplink to core" {
		t.Errorf("comment = %q", recs[1]["comment"])
	}
	if recs[2]["type"] != "bridge" {
		t.Errorf("record 2 = %v", recs[2])
	}
}

func TestParseCLIOutput_Stats(t *testing.T) {
	out := "Flags: R - RUNNING\r\n" +
		" 0 R  name=ether1 rx-byte=1200 tx-byte=800 rx-drop=4 tx-drop=0 rx-fcs-error=3\r\n" +
		" 1    name=ether2 rx-byte=0 tx-byte=0 rx-drop=0 tx-drop=0 rx-fcs-error=0\r\n"

	recs := ParseCLIOutput(out)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(recs), recs)
	}
	if recs[0]["rx-byte"] != "1200" || recs[0]["rx-drop"] != "4" || recs[0]["rx-fcs-error"] != "3" {
		t.Errorf("record 0 counters = %v", recs[0])
	}
	if recs[1]["name"] != "ether2" || recs[1]["running"] != "" {
		t.Errorf("record 1 = %v", recs[1])
	}
}

func TestParseCLIOutput_FirewallStats(t *testing.T) {
	out := " 0    chain=input action=drop in-interface=ether1 bytes=5040 packets=84\r\n" +
		" 1 X  chain=forward action=accept bytes=0 packets=0\r\n"

	recs := ParseCLIOutput(out)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(recs), recs)
	}
	if recs[0]["action"] != "drop" || recs[0]["packets"] != "84" {
		t.Errorf("record 0 = %v", recs[0])
	}
	if recs[1]["disabled"] != "true" {
		t.Errorf("record 1 flags = %v", recs[1])
	}
}

func TestParseCLIOutput_ValuesWithSpaces(t *testing.T) {
	out := " 0 time=jan/02/2024 10:00:01 topics=system,error,critical message=login failure for user admin from 10.0.0.9 via ssh\n"
	recs := ParseCLIOutput(out)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	r := recs[0]
	if r["time"] != "jan/02/2024 10:00:01" {
		t.Errorf("time = %q", r["time"])
	}
	if r["topics"] != "system,error,critical" {
		t.Errorf("topics = %q", r["topics"])
	}
	if r["message"] != "login failure for user admin from 10.0.0.9 via ssh" {
		t.Errorf("message = %q", r["message"])
	}
}

func TestParseCLIOutput_Singleton(t *testing.T) {
	out := `                   uptime: 3d4h12m
                  version: 6.49.10 (long-term)
                 cpu-load: 7%
              free-memory: 220.4MiB
                board-name: hAP ac^2
`
	recs := ParseCLIOutput(out)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1: %v", len(recs), recs)
	}
	r := recs[0]
	if r["version"] != "6.49.10 (long-term)" || r["cpu-load"] != "7%" || r["board-name"] != "hAP ac^2" {
		t.Errorf("record = %v", r)
	}
}

func TestCLIError(t *testing.T) {
	tests := []struct {
		out  string
		want bool
	}{
		{"bad command name wifiwave2 (line 1 column 12)\n", true},
		{"syntax error (line 1 column 5)", true},
		{" 0 name=ether1\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cliError(tt.out) != ""; got != tt.want {
			t.Errorf("cliError(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}
