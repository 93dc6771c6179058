package syncclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/types"
)

const (
	contentTypeHistorySegment = "application/vnd.taskchampion.history-segment"
	contentTypeSnapshot       = "application/vnd.taskchampion.snapshot"

	headerClientID         = "X-Client-Id"
	headerVersionID        = "X-Version-Id"
	headerParentVersionID  = "X-Parent-Version-Id"
	headerSnapshotRequest  = "X-Snapshot-Request"
	connectTimeout         = 10 * time.Second
	requestTimeout         = 60 * time.Second
	maxResponseBodyBytes   = 100 << 20 // 100 MiB, matching the request cap in §6.1
)

// RemoteServer speaks the HTTP wire protocol a real sync server
// exposes under pkg/syncserver/httpapi. It never sees plaintext: every
// body it sends or receives is an opaque, already-sealed envelope.
type RemoteServer struct {
	baseURL string
	client  *http.Client
}

// NewRemoteServer builds a RemoteServer targeting baseURL, e.g.
// "https://sync.example.com". A 10s connect timeout and 60s overall
// request timeout match the budget in the external interfaces spec.
func NewRemoteServer(baseURL string) *RemoteServer {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}
	return &RemoteServer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Transport: transport, Timeout: requestTimeout},
	}
}

func (s *RemoteServer) AddVersion(ctx context.Context, clientID, parentVersionID, versionID types.Uuid, historySegment []byte) (SnapshotUrgency, error) {
	url := fmt.Sprintf("%s/v1/client/add-version/%s", s.baseURL, parentVersionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBodyReader(historySegment))
	if err != nil {
		return SnapshotNone, tcerr.New(tcerr.Network, "add_version", err)
	}
	req.Header.Set("Content-Type", contentTypeHistorySegment)
	req.Header.Set(headerClientID, clientID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return SnapshotNone, tcerr.New(tcerr.Network, "add_version", err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return parseSnapshotRequest(resp.Header.Get(headerSnapshotRequest)), nil
	case http.StatusConflict:
		expected, err := uuid.Parse(resp.Header.Get(headerParentVersionID))
		if err != nil {
			return SnapshotNone, tcerr.New(tcerr.Network, "add_version", fmt.Errorf("conflict response missing %s: %w", headerParentVersionID, err))
		}
		return SnapshotNone, &ConflictError{Expected: expected}
	default:
		return SnapshotNone, tcerr.New(tcerr.Network, "add_version", unexpectedStatus(resp))
	}
}

func (s *RemoteServer) GetChildVersion(ctx context.Context, clientID, parentVersionID types.Uuid) (ChildVersion, error) {
	url := fmt.Sprintf("%s/v1/client/get-child-version/%s", s.baseURL, parentVersionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ChildVersion{}, tcerr.New(tcerr.Network, "get_child_version", err)
	}
	req.Header.Set(headerClientID, clientID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return ChildVersion{}, tcerr.New(tcerr.Network, "get_child_version", err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		versionID, err := uuid.Parse(resp.Header.Get(headerVersionID))
		if err != nil {
			return ChildVersion{}, tcerr.New(tcerr.Network, "get_child_version", fmt.Errorf("response missing %s: %w", headerVersionID, err))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		if err != nil {
			return ChildVersion{}, tcerr.New(tcerr.Network, "get_child_version", err)
		}
		return ChildVersion{
			Kind:           ChildFound,
			VersionID:      versionID,
			Parent:         parentVersionID,
			HistorySegment: body,
		}, nil
	case http.StatusNotFound:
		return ChildVersion{Kind: ChildNotFound}, nil
	case http.StatusGone:
		return ChildVersion{}, ErrGone
	default:
		return ChildVersion{}, tcerr.New(tcerr.Network, "get_child_version", unexpectedStatus(resp))
	}
}

func (s *RemoteServer) AddSnapshot(ctx context.Context, clientID, versionID types.Uuid, snapshot []byte) error {
	url := fmt.Sprintf("%s/v1/client/add-snapshot/%s", s.baseURL, versionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBodyReader(snapshot))
	if err != nil {
		return tcerr.New(tcerr.Network, "add_snapshot", err)
	}
	req.Header.Set("Content-Type", contentTypeSnapshot)
	req.Header.Set(headerClientID, clientID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return tcerr.New(tcerr.Network, "add_snapshot", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return tcerr.New(tcerr.Network, "add_snapshot", unexpectedStatus(resp))
	}
	return nil
}

func (s *RemoteServer) GetSnapshot(ctx context.Context, clientID types.Uuid) (types.Uuid, []byte, bool, error) {
	url := fmt.Sprintf("%s/v1/client/snapshot", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return uuid.Nil, nil, false, tcerr.New(tcerr.Network, "get_snapshot", err)
	}
	req.Header.Set(headerClientID, clientID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return uuid.Nil, nil, false, tcerr.New(tcerr.Network, "get_snapshot", err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		versionID, err := uuid.Parse(resp.Header.Get(headerVersionID))
		if err != nil {
			return uuid.Nil, nil, false, tcerr.New(tcerr.Network, "get_snapshot", fmt.Errorf("response missing %s: %w", headerVersionID, err))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		if err != nil {
			return uuid.Nil, nil, false, tcerr.New(tcerr.Network, "get_snapshot", err)
		}
		return versionID, body, true, nil
	case http.StatusNotFound:
		return uuid.Nil, nil, false, nil
	default:
		return uuid.Nil, nil, false, tcerr.New(tcerr.Network, "get_snapshot", unexpectedStatus(resp))
	}
}

func parseSnapshotRequest(header string) SnapshotUrgency {
	// Formatted by the server as "urgency=low" or "urgency=high".
	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 {
		return SnapshotNone
	}
	switch parts[1] {
	case "low":
		return SnapshotLow
	case "high":
		return SnapshotHigh
	default:
		return SnapshotNone
	}
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

func newBodyReader(body []byte) io.Reader {
	return strings.NewReader(string(body))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxResponseBodyBytes))
	_ = body.Close()
}
