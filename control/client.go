package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ctolnik/session-agent/httpclient"
)

// Client talks to a running agent's control API.
type Client struct {
	http *httpclient.Client
}

// NewClient accepts either host:port or a full http URL.
func NewClient(addr string, timeoutSeconds int) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{http: httpclient.NewClient(httpclient.Config{
		ServerURL:      addr,
		TimeoutSeconds: timeoutSeconds,
	})}
}

func (c *Client) Send(ctx context.Context, req Request) (Reply, error) {
	var reply Reply
	err := c.http.DoJSON(ctx, http.MethodPost, "/v1/commands", "", req, &reply)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return reply, fmt.Errorf("agent rejected %s: %s", req.Command, se.Body)
		}
		return reply, err
	}
	return reply, nil
}

func (c *Client) BackendAddress(ctx context.Context) (string, error) {
	var reply Reply
	if err := c.http.DoJSON(ctx, http.MethodGet, "/v1/backend-address", "", nil, &reply); err != nil {
		return "", err
	}
	return reply.BackendAddress, nil
}

func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var st StatusReply
	err := c.http.DoJSON(ctx, http.MethodGet, "/v1/status", "", nil, &st)
	return st, err
}
