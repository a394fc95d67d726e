package sshclient

import (
	"fmt"
	"strconv"
	"strings"
)

// Fact keys returned by ParseFacts.
const (
	FactUptimeSeconds        = "uptime_seconds"
	FactLoad1                = "load1"
	FactMemoryTotalBytes     = "memory_total_bytes"
	FactMemoryAvailableBytes = "memory_available_bytes"
	FactNetReceiveBytes      = "net_receive_bytes"
	FactNetTransmitBytes     = "net_transmit_bytes"
)

// ParseFacts parses the stdout of a builtin command line. ok is false when
// line is not a builtin.
func ParseFacts(line, stdout string) (facts map[string]float64, ok bool, err error) {
	b, ok := builtinForLine(line)
	if !ok {
		return nil, false, nil
	}

	facts = map[string]float64{}
	switch b.kind {
	case "uptime":
		v, err := ParseUptimeSeconds(stdout)
		if err != nil {
			return nil, true, err
		}
		facts[FactUptimeSeconds] = v
	case "loadavg":
		v, err := ParseLoad1(stdout)
		if err != nil {
			return nil, true, err
		}
		facts[FactLoad1] = v
	case "meminfo":
		total, avail, err := ParseMeminfo(stdout)
		if err != nil {
			return nil, true, err
		}
		facts[FactMemoryTotalBytes] = total
		facts[FactMemoryAvailableBytes] = avail
	case "netdev":
		rx, tx, err := ParseNetDev(stdout)
		if err != nil {
			return nil, true, err
		}
		facts[FactNetReceiveBytes] = rx
		facts[FactNetTransmitBytes] = tx
	}
	return facts, true, nil
}

func ParseUptimeSeconds(out string) (float64, error) {
	// /proc/uptime: "<uptime> <idle>"
	fields := strings.Fields(out)
	if len(fields) < 1 {
		return 0, fmt.Errorf("bad uptime: %q", out)
	}
	return strconv.ParseFloat(fields[0], 64)
}

func ParseLoad1(out string) (float64, error) {
	// /proc/loadavg: "0.10 0.20 0.30 1/123 4567"
	fields := strings.Fields(out)
	if len(fields) < 1 {
		return 0, fmt.Errorf("bad loadavg: %q", out)
	}
	return strconv.ParseFloat(fields[0], 64)
}

func ParseMeminfo(out string) (totalBytes, availBytes float64, err error) {
	var totalKB, availKB float64 = -1, -1

	for _, ln := range strings.Split(out, "\n") {
		ln = strings.TrimSpace(ln)
		if strings.HasPrefix(ln, "MemTotal:") {
			totalKB, _ = parseMeminfoKB(ln)
		}
		if strings.HasPrefix(ln, "MemAvailable:") {
			availKB, _ = parseMeminfoKB(ln)
		}
	}

	if totalKB <= 0 || availKB < 0 {
		return 0, 0, fmt.Errorf("missing MemTotal/MemAvailable")
	}
	return totalKB * 1024, availKB * 1024, nil
}

func parseMeminfoKB(line string) (float64, error) {
	// "MemTotal:       4015356 kB"
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("bad meminfo line: %q", line)
	}
	return strconv.ParseFloat(fields[1], 64)
}

// ParseNetDev sums received and transmitted bytes over all interfaces except
// loopback.
func ParseNetDev(out string) (rxBytes, txBytes float64, err error) {
	// "  eth0: 1234 10 0 0 0 0 0 0 5678 20 0 0 0 0 0 0"
	seen := 0
	for _, ln := range strings.Split(out, "\n") {
		iface, rest, ok := strings.Cut(ln, ":")
		if !ok {
			continue
		}
		iface = strings.TrimSpace(iface)
		fields := strings.Fields(rest)
		if len(fields) < 9 || iface == "lo" {
			continue
		}
		rx, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		tx, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			continue
		}
		rxBytes += rx
		txBytes += tx
		seen++
	}
	if seen == 0 {
		return 0, 0, fmt.Errorf("no interfaces in net/dev")
	}
	return rxBytes, txBytes, nil
}
