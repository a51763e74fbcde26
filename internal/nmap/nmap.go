package nmap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/log"
	"github.com/CZERTAINLY/cipher-lens/internal/model"

	"github.com/Ullaakut/nmap/v3"
)

// Scanner is a wrapper on top of "github.com/Ullaakut/nmap/v3" Scanner
type Scanner struct {
	nmap    string
	ports   []string
	options []nmap.Option
}

// New creates a nmap scanner with -sV, which is needed for tunnel detection
func New() Scanner {
	return Scanner{
		options: []nmap.Option{
			nmap.WithTimingTemplate(nmap.TimingAggressive),
			nmap.WithServiceInfo(),
		},
	}
}

func (s Scanner) WithNmapBinary(nmap string) Scanner {
	s.nmap = nmap
	return s
}

func (s Scanner) WithPorts(defs ...string) Scanner {
	ret := s
	ret.ports = append(append([]string(nil), ret.ports...), defs...)
	return ret
}

// Scan runs nmap against hosts and returns the port-scan document
func (s Scanner) Scan(ctx context.Context, hosts ...string) (model.PortScan, error) {
	if len(hosts) == 0 {
		return model.PortScan{}, errors.New("nmap scan: no hosts")
	}
	options := append([]nmap.Option(nil), s.options...)
	if s.nmap != "" {
		options = append(options, nmap.WithBinaryPath(s.nmap))
	}

	options = append(options, nmap.WithTargets(hosts...))

	for _, host := range hosts {
		if addr, err := netip.ParseAddr(host); err == nil && addr.Is6() {
			options = append(options, nmap.WithIPv6Scanning())
			break
		}
	}

	ports := s.ports
	if ports == nil {
		ports = []string{"1-65535"}
	}
	options = append(options, nmap.WithPorts(ports...))

	logCtx := log.ContextAttrs(
		ctx,
		slog.String("scanner", "nmap"),
		slog.GroupAttrs(
			"options",
			slog.String("nmap", s.nmap),
			slog.Any("ports", ports),
		),
		slog.Any("hosts", hosts),
	)
	run, err := scan(logCtx, options)
	if err != nil {
		return model.PortScan{}, fmt.Errorf("nmap scan services: %w", err)
	}

	if run == nil {
		slog.WarnContext(logCtx, "nmap scan: no hosts results")
		return model.PortScan{}, nil
	}

	return RunToModel(logCtx, run)
}

func scan(ctx context.Context, options []nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("creating nmap scanner: %w", err)
	}

	now := time.Now()
	slog.InfoContext(ctx, "scan started")
	scan, warningsp, err := scanner.Run()
	if err != nil {
		slog.DebugContext(ctx, "scan failed", "error", err)
		return nil, fmt.Errorf("nmap scan: %w", err)
	}

	if scan != nil {
		slog.InfoContext(ctx, "scan finished",
			slog.Group("stats",
				"args", scan.Args,
				"start", scan.StartStr,
				"finished", scan.Stats.Finished.TimeStr,
				"elapsed", scan.Stats.Finished.Elapsed,
				"summary", scan.Stats.Finished.Summary,
			),
		)
	}

	if warningsp != nil && *warningsp != nil {
		for _, warn := range *warningsp {
			slog.WarnContext(ctx, "scan", "warning", warn)
		}
	}

	if scan == nil || len(scan.Hosts) == 0 {
		slog.DebugContext(ctx, "scan found nothing")
		return nil, nil
	}

	slog.DebugContext(ctx, "scan finished", "elapsed", time.Since(now).String())
	return scan, nil
}

// ParseFile reads and parses a port-scan document. Read failures are
// reported as model.ErrIO, everything else as model.ErrMalformedDocument.
// Both are wrapped in a model.DocumentError.
func ParseFile(ctx context.Context, path string) (model.PortScan, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.PortScan{}, &model.DocumentError{Path: path, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.WarnContext(ctx, "closing port-scan document", "path", path, "error", err)
		}
	}()

	ret, err := Parse(ctx, f)
	if err != nil {
		var derr *model.DocumentError
		if errors.As(err, &derr) {
			derr.Path = path
			return model.PortScan{}, derr
		}
		return model.PortScan{}, &model.DocumentError{Path: path, Err: err}
	}
	return ret, nil
}

// Parse decodes the nmap XML output format.
func Parse(ctx context.Context, r io.Reader) (model.PortScan, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return model.PortScan{}, &model.DocumentError{Path: "-", Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}

	if err := checkRoot(b, "nmaprun"); err != nil {
		return model.PortScan{}, &model.DocumentError{Path: "-", Err: err}
	}

	var run nmap.Run
	if err := xml.Unmarshal(b, &run); err != nil {
		return model.PortScan{}, &model.DocumentError{Path: "-", Err: fmt.Errorf("%w: %w", model.ErrMalformedDocument, err)}
	}

	ret, err := RunToModel(ctx, &run)
	if err != nil {
		return model.PortScan{}, &model.DocumentError{Path: "-", Err: err}
	}
	return ret, nil
}

func checkRoot(b []byte, name string) error {
	dec := xml.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrMalformedDocument, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Local != name {
				return fmt.Errorf("%w: expected <%s>, got <%s>", model.ErrMalformedDocument, name, start.Name.Local)
			}
			return nil
		}
	}
}

// RunToModel converts the nmap result and checks every host has an address
// and every port has a number.
func RunToModel(ctx context.Context, run *nmap.Run) (model.PortScan, error) {
	ret := model.PortScan{
		Hosts: make([]model.Nmap, 0, len(run.Hosts)),
	}
	for idx, host := range run.Hosts {
		m := HostToModel(ctx, host)
		if m.Address == "" {
			return model.PortScan{}, fmt.Errorf("%w: host #%d: missing address", model.ErrMalformedDocument, idx)
		}
		for _, port := range m.Ports {
			if port.ID <= 0 || port.ID > 65535 {
				return model.PortScan{}, fmt.Errorf("%w: host %s: port id %d out of range", model.ErrMalformedDocument, m.Address, port.ID)
			}
		}
		ret.Hosts = append(ret.Hosts, m)
	}
	return ret, nil
}

// HostToModel converts a single nmap host. The first IP address wins, a MAC
// address is used only when nothing else is reported.
func HostToModel(ctx context.Context, host nmap.Host) model.Nmap {
	var address string
	for _, addr := range host.Addresses {
		if addr.AddrType == "mac" {
			continue
		}
		address = addr.Addr
		break
	}
	if address == "" && len(host.Addresses) > 0 {
		address = host.Addresses[0].Addr
	}

	ports := make([]model.NmapPort, len(host.Ports))
	for i, port := range host.Ports {
		ports[i] = portToModel(ctx, port)
	}

	return model.Nmap{
		Address: address,
		Status:  host.Status.State,
		Ports:   ports,
	}
}

func portToModel(_ context.Context, port nmap.Port) model.NmapPort {
	return model.NmapPort{
		ID:       int(port.ID),
		State:    port.State.State,
		Protocol: port.Protocol,
		Service: model.NmapService{
			Name:    port.Service.Name,
			Product: port.Service.Product,
			Version: port.Service.Version,
			Tunnel:  port.Service.Tunnel,
		},
	}
}

// TLSTargets returns every host:port, where the port is open and the service
// is tunneled through ssl. Ports without service detection are skipped.
// Duplicates are dropped, the order of the result is the document order.
func TLSTargets(ctx context.Context, doc model.PortScan) []model.TLSTarget {
	seen := make(map[model.TLSTarget]struct{})
	var ret []model.TLSTarget
	for _, host := range doc.Hosts {
		for _, port := range host.Ports {
			if port.State != model.PortStateOpen || port.Service.Tunnel != model.TunnelSSL {
				continue
			}
			target := model.TLSTarget{Host: host.Address, Port: uint16(port.ID)}
			if err := target.Validate(); err != nil {
				slog.WarnContext(ctx, "skipping invalid target", "error", err)
				continue
			}
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			ret = append(ret, target)
		}
	}
	return ret
}
