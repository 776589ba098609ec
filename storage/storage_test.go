package storage

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

func TestRowKeyOrdersNumerically(t *testing.T) {
	if rowKey(9) >= rowKey(10) {
		t.Fatalf("expected padded keys to sort numerically: %s vs %s", rowKey(9), rowKey(10))
	}
	if len(rowKey(1)) != 19 {
		t.Fatalf("unexpected key width: %q", rowKey(1))
	}
}

func TestDecodeTaskEntity(t *testing.T) {
	payload := []byte(`{
		"PartitionKey": "user-1",
		"RowKey": "0000000000000000007",
		"odata.etag": "W/\"list\"",
		"Title": "Roadmap",
		"StartDate": "2024-05-01T00:00:00Z",
		"Boards": "[{\"id\":\"a\",\"isCompleted\":false,\"title\":\"X\",\"content\":\"c1\"}]"
	}`)

	task, err := decodeTaskEntity(payload, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != 7 || task.Owner != "user-1" || task.Title != "Roadmap" {
		t.Fatalf("unexpected task: %#v", task)
	}
	if task.Version != "W/\"list\"" {
		t.Fatalf("expected etag from entity, got %q", task.Version)
	}
	if task.StartDate == nil || !task.StartDate.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date: %v", task.StartDate)
	}
	if task.EndDate != nil {
		t.Fatalf("expected absent end date, got %v", task.EndDate)
	}
	if len(task.Boards) != 1 || task.Boards[0].ID != "a" || task.Boards[0].Content != "c1" {
		t.Fatalf("unexpected boards: %#v", task.Boards)
	}

	withHeader, err := decodeTaskEntity(payload, "W/\"get\"")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if withHeader.Version != "W/\"get\"" {
		t.Fatalf("response etag should win, got %q", withHeader.Version)
	}
}

func TestDecodeTaskEntityEmptyBoards(t *testing.T) {
	task, err := decodeTaskEntity([]byte(`{"PartitionKey":"u","RowKey":"0000000000000000001","Title":""}`), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Boards == nil || len(task.Boards) != 0 {
		t.Fatalf("expected empty non-nil boards, got %#v", task.Boards)
	}
}

func TestEncodeTaskUpdateOnlyNamedFields(t *testing.T) {
	data, err := encodeTaskUpdate("u", 5, domain.TaskFields{Boards: []domain.Board{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]any
	if err := sonic.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["Boards"] != "[]" {
		t.Fatalf("expected empty boards collection, got %#v", got["Boards"])
	}
	if _, ok := got["Title"]; ok {
		t.Fatalf("title should not be written: %#v", got)
	}
	if got["RowKey"] != rowKey(5) || got["PartitionKey"] != "u" {
		t.Fatalf("unexpected keys: %#v", got)
	}
}

func TestResultFromError(t *testing.T) {
	res, err := resultFromError(&azcore.ResponseError{StatusCode: http.StatusPreconditionFailed, ErrorCode: "UpdateConditionNotSatisfied"})
	if err != nil {
		t.Fatalf("response errors should become error objects, got %v", err)
	}
	if res.Err == nil || res.Status != http.StatusPreconditionFailed || res.OK() {
		t.Fatalf("unexpected result: %#v", res)
	}
	if res.Err.Message == "" {
		t.Fatalf("expected a user facing message")
	}

	transport := errors.New("dial tcp: connection refused")
	if _, err := resultFromError(transport); !errors.Is(err, transport) {
		t.Fatalf("transport faults should stay Go errors, got %v", err)
	}
}

func TestEscapeODataString(t *testing.T) {
	if got := escapeODataString("o'brien"); got != "o''brien" {
		t.Fatalf("unexpected escape: %s", got)
	}
}
