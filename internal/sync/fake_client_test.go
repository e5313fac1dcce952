package sync

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/i-z-z-y/wpdrive-client/internal/wpapi"
)

// fakeClient is a scripted, in-memory stand-in for the remote API used
// by engine tests, recording every call the engine makes.
type fakeClient struct {
	changesPages    [][]wpapi.RemoteChange
	changesCalls    []int64
	downloadContent map[string][]byte
	downloadCRC     map[string]uint32

	chunkOffsets       []int64
	chunkFailuresUntil map[int64]int // offset -> number of failures to inject before succeeding
	chunkFailureStatus int

	uploadInitCalls   []string
	lastRequestedPath string
	finalizeRelPath   string
	finalizeRev       int64

	deletedPaths []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		downloadContent:    map[string][]byte{},
		downloadCRC:        map[string]uint32{},
		chunkFailuresUntil: map[int64]int{},
		chunkFailureStatus: 413,
	}
}

func (f *fakeClient) Changes(_ context.Context, since int64, _ int) (*wpapi.ChangesResponse, error) {
	f.changesCalls = append(f.changesCalls, since)

	if len(f.changesPages) == 0 {
		return &wpapi.ChangesResponse{}, nil
	}

	page := f.changesPages[0]
	f.changesPages = f.changesPages[1:]

	return &wpapi.ChangesResponse{Changes: page}, nil
}

func (f *fakeClient) UploadInit(_ context.Context, relPath string, _, _ int64, _ uint32, _ int64, _, _ string) (*wpapi.UploadInitResponse, error) {
	f.uploadInitCalls = append(f.uploadInitCalls, relPath)
	f.lastRequestedPath = relPath

	decided := relPath
	if f.finalizeRelPath != "" {
		decided = f.finalizeRelPath
	}

	return &wpapi.UploadInitResponse{UploadID: "up-1", DecidedPath: decided}, nil
}

func (f *fakeClient) UploadChunk(_ context.Context, _ string, offset int64, data []byte) error {
	f.chunkOffsets = append(f.chunkOffsets, offset)

	if remaining, ok := f.chunkFailuresUntil[offset]; ok && remaining > 0 {
		f.chunkFailuresUntil[offset] = remaining - 1
		return &wpapi.APIError{StatusCode: f.chunkFailureStatus, Message: "injected failure"}
	}

	return nil
}

func (f *fakeClient) UploadFinalize(_ context.Context, _ string) (*wpapi.UploadFinalizeResponse, error) {
	rel := f.finalizeRelPath
	if rel == "" {
		rel = f.lastRequestedPath
	}

	rev := f.finalizeRev
	if rev == 0 {
		rev = 1
	}

	return &wpapi.UploadFinalizeResponse{RelPath: rel, Rev: rev}, nil
}

func (f *fakeClient) Delete(_ context.Context, relPath, _ string) error {
	f.deletedPaths = append(f.deletedPaths, relPath)
	return nil
}

func (f *fakeClient) DownloadStream(_ context.Context, relPath string) (io.ReadCloser, error) {
	content, ok := f.downloadContent[relPath]
	if !ok {
		return nil, fmt.Errorf("fakeClient: no scripted content for %s", relPath)
	}

	return io.NopCloser(strings.NewReader(string(content))), nil
}

var _ Client = (*fakeClient)(nil)
