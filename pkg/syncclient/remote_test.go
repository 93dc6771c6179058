package syncclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteServer_AddVersionSuccess(t *testing.T) {
	clientID, parent, version := uuid.New(), uuid.New(), uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/client/add-version/"+parent.String(), r.URL.Path)
		assert.Equal(t, clientID.String(), r.Header.Get(headerClientID))
		assert.Equal(t, contentTypeHistorySegment, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "segment", string(body))

		w.Header().Set(headerVersionID, version.String())
		w.Header().Set(headerSnapshotRequest, "urgency=high")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	urgency, err := rs.AddVersion(context.Background(), clientID, parent, version, []byte("segment"))
	require.NoError(t, err)
	assert.Equal(t, SnapshotHigh, urgency)
}

func TestRemoteServer_AddVersionConflict(t *testing.T) {
	clientID, parent := uuid.New(), uuid.New()
	actualHead := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerParentVersionID, actualHead.String())
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	_, err := rs.AddVersion(context.Background(), clientID, parent, uuid.New(), []byte("segment"))
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, actualHead, conflict.Expected)
}

func TestRemoteServer_GetChildVersionFound(t *testing.T) {
	clientID, parent, child := uuid.New(), uuid.New(), uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/client/get-child-version/"+parent.String(), r.URL.Path)
		w.Header().Set(headerVersionID, child.String())
		w.Header().Set(headerParentVersionID, parent.String())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ciphertext"))
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	got, err := rs.GetChildVersion(context.Background(), clientID, parent)
	require.NoError(t, err)
	assert.Equal(t, ChildFound, got.Kind)
	assert.Equal(t, child, got.VersionID)
	assert.Equal(t, []byte("ciphertext"), got.HistorySegment)
}

func TestRemoteServer_GetChildVersionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	got, err := rs.GetChildVersion(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, ChildNotFound, got.Kind)
}

func TestRemoteServer_GetChildVersionGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	_, err := rs.GetChildVersion(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrGone)
}

func TestRemoteServer_AddSnapshot(t *testing.T) {
	clientID, version := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/client/add-snapshot/"+version.String(), r.URL.Path)
		assert.Equal(t, contentTypeSnapshot, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	err := rs.AddSnapshot(context.Background(), clientID, version, []byte("snapshot data"))
	require.NoError(t, err)
}

func TestRemoteServer_GetSnapshotFound(t *testing.T) {
	version := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerVersionID, version.String())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("snapshot bytes"))
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	gotVersion, data, ok, err := rs.GetSnapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, version, gotVersion)
	assert.Equal(t, []byte("snapshot bytes"), data)
}

func TestRemoteServer_GetSnapshotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rs := NewRemoteServer(srv.URL)
	_, _, ok, err := rs.GetSnapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
