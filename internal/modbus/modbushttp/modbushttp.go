// Package modbushttp carries Modbus RTU frames over HTTP so a relay board
// attached to one machine can be driven from another.
package modbushttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/w1xm/skywatcher/internal/logging"
)

type SendResponse struct {
	ADUResponse []byte
	Error       string
}

type Client struct {
	*modbus.RTUClientHandler

	// Password is sent as HTTP basic auth when set
	Password   string
	HTTPClient *http.Client

	baseURL string
}

func NewClient(baseURL string) *Client {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 1
	return &Client{
		RTUClientHandler: handler,
		HTTPClient:       &http.Client{Timeout: 5 * time.Second},
		baseURL:          baseURL,
	}
}

func (c *Client) Send(aduRequest []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL, bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.Password != "" {
		req.SetBasicAuth("", c.Password)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}

func (c *Client) Connect() error {
	return nil
}

func (c *Client) Close() error {
	return nil
}

// Sender forwards a raw request frame to a board and returns its reply.
type Sender interface {
	Send(aduRequest []byte) (aduResponse []byte, err error)
}

// Server exposes a Sender to Client over HTTP. Requests are serialized.
type Server struct {
	mu       sync.Mutex
	sender   Sender
	password string
	log      logging.Logger
}

func NewServer(sender Sender, password string, log logging.Logger) *Server {
	return &Server{sender: sender, password: password, log: logging.OrNoop(log)}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.password != "" {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != s.password {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	err := func() error {
		aduRequest, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		aduResponse, err := s.sender.Send(aduRequest)
		s.mu.Unlock()
		var errString string
		if err != nil {
			errString = err.Error()
		}
		body, err := json.Marshal(&SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		s.log.Error(r.Context(), "relaying modbus frame", logging.Err(err))
		http.Error(w, err.Error(), 500)
		return
	}
}
