package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const readyAttempts = 30

// Manager finds or starts the geofollow server and reports its output to
// the shell page.
type Manager struct {
	logFunc    func(string)
	appFunc    func(string)
	serverAddr string
	serverBin  string
	configPath string

	client   *http.Client
	interval time.Duration

	mu        sync.Mutex
	serverCmd *exec.Cmd
}

func NewManager(log, app func(string), serverAddr, serverBin, configPath string) *Manager {
	return &Manager{
		logFunc:    log,
		appFunc:    app,
		serverAddr: serverAddr,
		serverBin:  serverBin,
		configPath: configPath,
		client:     &http.Client{Timeout: 1 * time.Second},
		interval:   1 * time.Second,
	}
}

func (m *Manager) log(msg string) {
	if m.logFunc != nil {
		m.logFunc(msg)
	}
}

// Stop asks a server this viewer started to shut down. A server that was
// already running is left alone.
func (m *Manager) Stop() {
	m.mu.Lock()
	cmd := m.serverCmd
	m.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	fmt.Println("> GeoFollow viewer closing: Sending shutdown signal to server...")
	if err := m.requestShutdown(); err != nil {
		fmt.Printf("> API shutdown failed: %v\n", err)
		_ = cmd.Process.Kill()
		return
	}
	fmt.Println("> Shutdown command sent successfully.")
}

func (m *Manager) requestShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/shutdown", m.resolveAddr())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (m *Manager) Start() {
	go func() {
		if m.isServerReady() {
			m.log("> Server already active.")
		} else {
			m.log(fmt.Sprintf("> Server not running. Starting %s...", m.serverBin))
			go m.runServer()
		}

		m.log("> Waiting for server...")
		if !m.waitReady(readyAttempts) {
			m.log("> Error: Server timed out.")
			return
		}
		m.log("> Server ready!")
		if m.appFunc != nil {
			m.appFunc("http://" + m.resolveAddr())
		}
	}()
}

func (m *Manager) waitReady(attempts int) bool {
	for i := 0; i < attempts; i++ {
		if m.isServerReady() {
			return true
		}
		time.Sleep(m.interval)
	}
	return false
}

func (m *Manager) runServer() {
	cmd := exec.Command(m.serverBin, "-config", m.configPath)
	m.mu.Lock()
	m.serverCmd = cmd
	m.mu.Unlock()
	if err := m.runWithOutput(cmd); err != nil {
		m.log(fmt.Sprintf("Server exited with error: %v", err))
	}
}

func (m *Manager) runWithOutput(cmd *exec.Cmd) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	go m.streamReader(stdout)
	go m.streamReader(stderr)

	return cmd.Wait()
}

func (m *Manager) streamReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.log(scanner.Text())
	}
}

func (m *Manager) resolveAddr() string {
	addr := m.serverAddr
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	if strings.HasPrefix(addr, "localhost:") {
		return strings.Replace(addr, "localhost:", "127.0.0.1:", 1)
	}
	return addr
}

func (m *Manager) isServerReady() bool {
	resp, err := m.client.Get(fmt.Sprintf("http://%s/health", m.resolveAddr()))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
