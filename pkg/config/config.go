// Package config loads the NoSIP bridge's configuration.
//
// The plugin is configured from a Janus-style key=value file with a
// single [general] section, matching the original C plugin's config
// format. Every file value can be overridden by an environment
// variable, following the same getEnv/getEnvBool/getEnvInt idiom the
// rest of this codebase's ambient stack uses.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	pkg_errors "nosip-bridge/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the complete plugin configuration.
type Config struct {
	General GeneralConfig `json:"general"`
}

// GeneralConfig mirrors the spec's `[general]` section.
type GeneralConfig struct {
	// LocalIP is the address advertised in generated SDP. May be
	// given as a dotted IPv4/IPv6 literal or an interface name; falls
	// back to auto-detection when empty.
	LocalIP string `json:"local_ip" env:"NOSIP_LOCAL_IP"`

	// RTPPortMin/RTPPortMax bound the port allocator's search range.
	RTPPortMin int `json:"rtp_port_min" env:"NOSIP_RTP_PORT_MIN" default:"10000"`
	RTPPortMax int `json:"rtp_port_max" env:"NOSIP_RTP_PORT_MAX" default:"60000"`

	// Events gates fire-and-forget event notifications to the host.
	Events bool `json:"events" env:"NOSIP_EVENTS" default:"true"`
}

// Load reads the plugin configuration file at path (if it exists),
// applies environment overrides, and fills in defaults for anything
// left unset. A missing file is not an error: the plugin can run on
// environment variables and defaults alone, mirroring the way Janus
// plugins tolerate a missing .cfg and fall back to auto-detection.
func Load(path string, logger *logrus.Logger) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		General: GeneralConfig{
			RTPPortMin: 10000,
			RTPPortMax: 60000,
			Events:     true,
		},
	}

	if path != "" {
		values, err := parseKeyValueFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, pkg_errors.Wrap(err, "failed to read config file").WithField("path", path)
			}
			logger.WithField("path", path).Debug("no config file found, using defaults and environment")
		} else {
			applyGeneralSection(&cfg.General, values)
		}
	}

	applyGeneralEnv(&cfg.General)

	if err := normalizePortRange(&cfg.General); err != nil {
		return nil, err
	}

	if cfg.General.LocalIP == "" || cfg.General.LocalIP == "auto" {
		ip, err := DetectLocalIP()
		if err != nil {
			return nil, pkg_errors.Wrap(err, "failed to auto-detect local IP")
		}
		cfg.General.LocalIP = ip
		logger.WithField("local_ip", ip).Info("auto-detected local IP")
	} else if resolved, err := resolveLocalIP(cfg.General.LocalIP); err == nil {
		cfg.General.LocalIP = resolved
	}

	return cfg, nil
}

// parseKeyValueFile parses a Janus-style `[section]` / `key = value`
// configuration file into a flat map of section.key -> value.
func parseKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		values[section+"."+key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func applyGeneralSection(g *GeneralConfig, values map[string]string) {
	if v, ok := values["general.local_ip"]; ok {
		g.LocalIP = v
	}
	if v, ok := values["general.rtp_port_range"]; ok {
		if min, max, err := parsePortRange(v); err == nil {
			g.RTPPortMin, g.RTPPortMax = min, max
		}
	}
	if v, ok := values["general.events"]; ok {
		g.Events = parseBool(v, g.Events)
	}
}

func applyGeneralEnv(g *GeneralConfig) {
	g.LocalIP = getEnv("NOSIP_LOCAL_IP", g.LocalIP)
	g.RTPPortMin = getEnvInt("NOSIP_RTP_PORT_MIN", g.RTPPortMin)
	g.RTPPortMax = getEnvInt("NOSIP_RTP_PORT_MAX", g.RTPPortMax)
	g.Events = getEnvBool("NOSIP_EVENTS", g.Events)
	if rangeStr := getEnv("NOSIP_RTP_PORT_RANGE", ""); rangeStr != "" {
		if min, max, err := parsePortRange(rangeStr); err == nil {
			g.RTPPortMin, g.RTPPortMax = min, max
		}
	}
}

// parsePortRange parses "min-max", swapping if inverted; max=0 means 65535.
func parsePortRange(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	if max == 0 {
		max = 65535
	}
	if min > max {
		min, max = max, min
	}
	return min, max, nil
}

// normalizePortRange re-applies the range-swap/zero-max rule after env
// overrides, in case an override widened or inverted the range.
func normalizePortRange(g *GeneralConfig) error {
	if g.RTPPortMax == 0 {
		g.RTPPortMax = 65535
	}
	if g.RTPPortMin > g.RTPPortMax {
		g.RTPPortMin, g.RTPPortMax = g.RTPPortMax, g.RTPPortMin
	}
	if g.RTPPortMin <= 0 || g.RTPPortMax <= 0 {
		return pkg_errors.New("invalid RTP port range").WithFields(map[string]interface{}{
			"min": g.RTPPortMin, "max": g.RTPPortMax,
		})
	}
	return nil
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return def
	}
}

// DetectLocalIP picks the first non-loopback IPv4 address bound to a
// local interface, mirroring the teacher's getInternalIP helper.
func DetectLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", pkg_errors.Wrap(err, "could not list interface addresses")
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	return "", pkg_errors.New("no non-loopback IPv4 interface address found")
}

// resolveLocalIP treats LocalIP as either a literal address or an
// interface name (e.g. "eth0"), returning the bound IPv4 address.
func resolveLocalIP(value string) (string, error) {
	if ip := net.ParseIP(value); ip != nil {
		return value, nil
	}
	iface, err := net.InterfaceByName(value)
	if err != nil {
		return "", err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	return "", pkg_errors.New("interface has no IPv4 address").WithField("interface", value)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return parseBool(value, defaultValue)
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
