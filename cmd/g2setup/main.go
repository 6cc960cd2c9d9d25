// Command g2setup auto-generates a .env file for the gateway by detecting
// local GPU capabilities and reading the local OpenClaw configuration. It
// does not exercise any session-runtime logic.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func main() {
	force := flag.Bool("force", false, "overwrite an existing .env file")
	projectRoot := flag.String("project-root", ".", "project root to write .env into")
	flag.Parse()

	if err := run(*projectRoot, *force); err != nil {
		fmt.Fprintln(os.Stderr, "g2setup:", err)
		os.Exit(1)
	}
}

func run(projectRoot string, force bool) error {
	envPath := filepath.Join(projectRoot, ".env")
	if _, err := os.Stat(envPath); err == nil && !force {
		return fmt.Errorf("%s already exists, pass -force to overwrite", envPath)
	}

	gpuName, vramGB := detectGPU()
	hasGPU := gpuName != ""
	device := "cpu"
	computeType := "int8"
	if hasGPU {
		device = "cuda"
		computeType = "float16"
	}
	model := chooseWhisperModel(vramGB, hasGPU)

	token, err := randomToken(24)
	if err != nil {
		return err
	}

	openClawToken, openClawPort := readOpenClawConfig()
	localIP := localIPAddress()

	content := renderEnv(localIP, token, model, device, computeType, openClawPort, openClawToken)
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", envPath)
	fmt.Printf("local IP:      %s\n", localIP)
	fmt.Printf("whisper model: %s on %s (%s)\n", model, device, computeType)
	fmt.Printf("gateway token: %s...\n", token[:8])
	fmt.Printf("openclaw port: %d\n", openClawPort)
	return nil
}

func detectGPU() (name string, vramGB float64) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader").Output()
	if err != nil {
		return "", 0
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return "", 0
	}
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return "", 0
	}
	gpuName := strings.TrimSpace(parts[0])
	vramStr := strings.ToLower(strings.TrimSpace(parts[1]))
	vramStr = strings.TrimSuffix(vramStr, "mib")
	vramStr = strings.TrimSpace(vramStr)
	vramMB, err := strconv.ParseFloat(vramStr, 64)
	if err != nil {
		return gpuName, 0
	}
	return gpuName, vramMB / 1024.0
}

func chooseWhisperModel(vramGB float64, hasGPU bool) string {
	if !hasGPU {
		return "tiny.en"
	}
	switch {
	case vramGB < 4:
		return "base.en"
	case vramGB < 8:
		return "small.en"
	default:
		return "medium.en"
	}
}

type openClawConfig struct {
	Gateway struct {
		Port int `json:"port"`
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	} `json:"gateway"`
}

func readOpenClawConfig() (token string, port int) {
	port = 18789
	home, err := os.UserHomeDir()
	if err != nil {
		return "", port
	}
	raw, err := os.ReadFile(filepath.Join(home, ".openclaw", "openclaw.json"))
	if err != nil {
		return "", port
	}
	var cfg openClawConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", port
	}
	if cfg.Gateway.Port != 0 {
		port = cfg.Gateway.Port
	}
	return cfg.Gateway.Auth.Token, port
}

func localIPAddress() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func renderEnv(localIP, token, model, device, computeType string, openClawPort int, openClawToken string) string {
	return fmt.Sprintf(`# G2 OpenClaw Gateway - environment configuration
# Generated by: g2setup
# Your local IP: %s - use this in the client app's gateway URL setting.
GATEWAY_HOST=0.0.0.0
GATEWAY_PORT=8765
GATEWAY_TOKEN=%s

# --- Whisper (speech-to-text) ---
WHISPER_MODEL=%s
WHISPER_DEVICE=%s
WHISPER_COMPUTE_TYPE=%s

# --- OpenClaw connection ---
OPENCLAW_HOST=127.0.0.1
OPENCLAW_PORT=%d
OPENCLAW_GATEWAY_TOKEN=%s

# --- Timeouts ---
AGENT_TIMEOUT=120
`, localIP, token, model, device, computeType, openClawPort, openClawToken)
}
