package nmap

import (
	"embed"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
	nmapv3 "github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/require"
)

//go:embed testdata/*
var testdata embed.FS

func TestParseFile(t *testing.T) {
	t.Parallel()
	doc, err := ParseFile(t.Context(), filepath.Join("testdata", "scan.xml"))
	require.NoError(t, err)
	require.Len(t, doc.Hosts, 2)

	host := doc.Hosts[0]
	require.Equal(t, "10.0.0.5", host.Address)
	require.Equal(t, "up", host.Status)
	require.Equal(t, []model.NmapPort{
		{
			ID:       80,
			State:    "open",
			Protocol: "tcp",
			Service:  model.NmapService{Name: "http", Product: "nginx", Version: "1.24.0"},
		},
		{
			ID:       443,
			State:    "open",
			Protocol: "tcp",
			Service:  model.NmapService{Name: "http", Product: "nginx", Version: "1.24.0", Tunnel: "ssl"},
		},
	}, host.Ports)

	// mac address is listed first, ip address wins
	require.Equal(t, "10.0.0.6", doc.Hosts[1].Address)
}

func TestParse_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
	}{
		{"syntax error", `<nmaprun><host>`},
		{"not xml", `{"hosts": []}`},
		{"wrong root element", `<document><ssltest host="10.0.0.5" port="443"/></document>`},
		{"host without address", `<nmaprun><host><status state="up"/><ports/></host></nmaprun>`},
		{"port without number", `<nmaprun><host><address addr="10.0.0.5" addrtype="ipv4"/><ports><port protocol="tcp"><state state="open"/></port></ports></host></nmaprun>`},
		{"port not a number", `<nmaprun><host><address addr="10.0.0.5" addrtype="ipv4"/><ports><port protocol="tcp" portid="https"><state state="open"/></port></ports></host></nmaprun>`},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := Parse(t.Context(), strings.NewReader(tc.given))
			require.Error(t, err)
			require.ErrorIs(t, err, model.ErrMalformedDocument)
			var derr *model.DocumentError
			require.ErrorAs(t, err, &derr)
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "missing.xml")
	_, err := ParseFile(t.Context(), path)
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrIO)
	var derr *model.DocumentError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, path, derr.Path)
}

func TestTLSTargets(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		then     []model.TLSTarget
	}{
		{
			scenario: "open and ssl only",
			given:    "testdata/scan.xml",
			then: []model.TLSTarget{
				{Host: "10.0.0.5", Port: 443},
				{Host: "10.0.0.6", Port: 8443},
			},
		},
		{
			scenario: "no service detection yields nothing",
			given:    "testdata/noversion.xml",
			then:     nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			f, err := testdata.Open(tc.given)
			require.NoError(t, err)
			t.Cleanup(func() { _ = f.Close() })
			doc, err := Parse(t.Context(), f)
			require.NoError(t, err)
			require.Equal(t, tc.then, TLSTargets(t.Context(), doc))
		})
	}
}

func TestTLSTargets_Scenario(t *testing.T) {
	t.Parallel()
	doc := model.PortScan{
		Hosts: []model.Nmap{
			{
				Address: "10.0.0.5",
				Ports: []model.NmapPort{
					{ID: 443, State: "open", Service: model.NmapService{Tunnel: "ssl"}},
					{ID: 80, State: "open"},
				},
			},
		},
	}
	require.Equal(t, []model.TLSTarget{{Host: "10.0.0.5", Port: 443}}, TLSTargets(t.Context(), doc))
}

func TestTLSTargets_Duplicates(t *testing.T) {
	t.Parallel()
	port := model.NmapPort{ID: 443, State: "open", Service: model.NmapService{Tunnel: "ssl"}}
	doc := model.PortScan{
		Hosts: []model.Nmap{
			{Address: "10.0.0.5", Ports: []model.NmapPort{port}},
			{Address: "10.0.0.5", Ports: []model.NmapPort{port}},
		},
	}
	require.Len(t, TLSTargets(t.Context(), doc), 1)
}

func TestHostToModel(t *testing.T) {
	t.Parallel()
	host := nmapv3.Host{
		Addresses: []nmapv3.Address{
			{Addr: "aa:bb:cc:dd:ee:ff", AddrType: "mac"},
		},
		Status: nmapv3.Status{State: "up"},
		Ports: []nmapv3.Port{
			{
				ID:       465,
				Protocol: "tcp",
				State:    nmapv3.State{State: "open"},
				Service:  nmapv3.Service{Name: "smtp", Tunnel: "ssl"},
			},
		},
	}
	got := HostToModel(t.Context(), host)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", got.Address)
	require.Equal(t, "up", got.Status)
	require.Equal(t, []model.NmapPort{
		{ID: 465, State: "open", Protocol: "tcp", Service: model.NmapService{Name: "smtp", Tunnel: "ssl"}},
	}, got.Ports)
}

func TestScanner(t *testing.T) {
	if testing.Short() {
		t.Skipf("%s is skipped via -short", t.Name())
	}
	nmapPath, err := exec.LookPath("nmap")
	if err != nil {
		t.Skip("nmap binary is missing in PATH")
	}
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	doc, err := New().
		WithNmapBinary(nmapPath).
		WithPorts(port).
		Scan(t.Context(), host)
	require.NoError(t, err)
	require.Len(t, doc.Hosts, 1)

	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	targets := TLSTargets(t.Context(), doc)
	require.Equal(t, []model.TLSTarget{{Host: host, Port: uint16(p)}}, targets)
}
