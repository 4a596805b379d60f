package text

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/google/go-cmp/cmp"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := Codec{}
	encoded, err := codec.Encode("gm ☀")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded.Type != ContentType {
		t.Fatalf("encoded type = %s, want %s", encoded.Type, ContentType)
	}
	if encoded.Parameters[encodingParameter] != encodingUTF8 {
		t.Fatalf("encoding parameter = %q, want %q", encoded.Parameters[encodingParameter], encodingUTF8)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded != "gm ☀" {
		t.Fatalf("decoded = %v, want %q", decoded, "gm ☀")
	}
}

func TestCodecRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encoded xmtpcache.EncodedContent
	}{
		{
			name: "foreign encoding",
			encoded: xmtpcache.EncodedContent{
				Type:       ContentType,
				Parameters: map[string]string{encodingParameter: "UTF-16"},
				Content:    []byte("hi"),
			},
		},
		{
			name: "invalid utf8",
			encoded: xmtpcache.EncodedContent{
				Type:    ContentType,
				Content: []byte{0xff, 0xfe},
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := (Codec{}).Decode(testCase.encoded); err == nil {
				t.Fatal("Decode() error = nil, want error")
			}
		})
	}

	if _, err := (Codec{}).Encode(42); err == nil {
		t.Fatal("Encode(42) error = nil, want error")
	}
}

func TestValidatorMaxLength(t *testing.T) {
	t.Parallel()

	validator := New(WithMaxLength(3)).Configuration().Validator
	tests := []struct {
		name    string
		content any
		want    bool
	}{
		{name: "short", content: "abc", want: true},
		{name: "runes not bytes", content: "äöü", want: true},
		{name: "too long", content: "abcd", want: false},
		{name: "not text", content: []byte("abc"), want: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := validator(testCase.content); got != testCase.want {
				t.Fatalf("validator(%v) = %v, want %v", testCase.content, got, testCase.want)
			}
		})
	}
}

func TestProcessorCachesMessage(t *testing.T) {
	t.Parallel()

	config := New(WithNamespace("chat")).Configuration()
	if config.Namespace != "chat" {
		t.Fatalf("namespace = %q, want chat", config.Namespace)
	}

	sentAt := time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC)
	input := xmtpcache.ProcessorInput{
		Message:   decodedText("m1", "/xmtp/0/dm-a/proto", sentAt, "hello"),
		Namespace: "chat",
	}
	mutations, err := config.Processors[0](context.Background(), input)
	if err != nil {
		t.Fatalf("processor error = %v", err)
	}
	if len(mutations) != 1 {
		t.Fatalf("mutations = %d, want 1", len(mutations))
	}

	mutation := mutations[0]
	wantKey := "%2Fxmtp%2F0%2Fdm-a%2Fproto/20240301T120000.000000005Z/m1"
	if mutation.Namespace != "chat" || mutation.Key != wantKey || mutation.Delete {
		t.Fatalf("mutation = %+v, want put chat/%s", mutation, wantKey)
	}

	var record CachedMessage
	if err := json.Unmarshal(mutation.Value, &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	want := CachedMessage{
		ID:                "m1",
		ConversationTopic: "/xmtp/0/dm-a/proto",
		SenderAddress:     "0xsender",
		SentAt:            sentAt,
		ContentType:       ContentType.String(),
		Content:           "hello",
	}
	if diff := cmp.Diff(want, record); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessorRejectsNonText(t *testing.T) {
	t.Parallel()

	input := xmtpcache.ProcessorInput{
		Message:   decodedText("m1", "topic", time.Now(), "x"),
		Namespace: DefaultNamespace,
	}
	input.Message.Content = 7

	if _, err := New().Configuration().Processors[0](context.Background(), input); err == nil {
		t.Fatal("processor error = nil, want error")
	}
}

func TestMessageKeysOrderBySendTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := []string{
		MessageKey(decodedText("b", "t", base.Add(time.Hour), "").Message),
		MessageKey(decodedText("a", "t", base.Add(time.Millisecond), "").Message),
		MessageKey(decodedText("c", "t", base.Add(10*time.Hour), "").Message),
	}
	sort.Strings(keys)

	want := []string{"a", "b", "c"}
	for index, key := range keys {
		if !strings.HasSuffix(key, "/"+want[index]) {
			t.Fatalf("keys[%d] = %q, want suffix /%s", index, key, want[index])
		}
	}
}

func TestCachedMessages(t *testing.T) {
	t.Parallel()

	table := fakeTable{}
	config := New().Configuration()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for index, message := range []xmtpcache.DecodedMessage{
		decodedText("m2", "topic-a", base.Add(2*time.Minute), "second"),
		decodedText("m1", "topic-a", base.Add(time.Minute), "first"),
		decodedText("m3", "topic-b", base, "other"),
	} {
		mutations, err := config.Processors[0](context.Background(), xmtpcache.ProcessorInput{
			Message:   message,
			Namespace: DefaultNamespace,
		})
		if err != nil {
			t.Fatalf("processor[%d] error = %v", index, err)
		}
		for _, mutation := range mutations {
			table[mutation.Key] = mutation.Value
		}
	}

	messages, err := CachedMessages(context.Background(), table, "topic-a")
	if err != nil {
		t.Fatalf("CachedMessages() error = %v", err)
	}
	got := make([]string, 0, len(messages))
	for _, message := range messages {
		got = append(got, message.Content)
	}
	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Fatalf("cached messages mismatch (-want +got):\n%s", diff)
	}
}

func TestCachedMessagesSeparatesLookalikeTopics(t *testing.T) {
	t.Parallel()

	table := fakeTable{}
	config := New().Configuration()
	sentAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, message := range []xmtpcache.DecodedMessage{
		decodedText("m1", "room/1", sentAt, "slash"),
		decodedText("m2", "room%2F1", sentAt, "escaped"),
	} {
		mutations, err := config.Processors[0](context.Background(), xmtpcache.ProcessorInput{
			Message:   message,
			Namespace: DefaultNamespace,
		})
		if err != nil {
			t.Fatalf("processor(%s) error = %v", message.ID, err)
		}
		for _, mutation := range mutations {
			table[mutation.Key] = mutation.Value
		}
	}

	for topic, want := range map[string][]string{
		"room/1":   {"slash"},
		"room%2F1": {"escaped"},
	} {
		messages, err := CachedMessages(context.Background(), table, topic)
		if err != nil {
			t.Fatalf("CachedMessages(%q) error = %v", topic, err)
		}
		got := make([]string, 0, len(messages))
		for _, message := range messages {
			got = append(got, message.Content)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("CachedMessages(%q) mismatch (-want +got):\n%s", topic, diff)
		}
	}
}

func TestCachedMessagesReportsCorruptRecords(t *testing.T) {
	t.Parallel()

	table := fakeTable{ConversationPrefix("topic") + "k": []byte("{")}
	_, err := CachedMessages(context.Background(), table, "topic")
	if err == nil {
		t.Fatal("CachedMessages() error = nil, want error")
	}

	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("CachedMessages() error = %v, want json syntax error", err)
	}
}

func decodedText(id, topic string, sentAt time.Time, text string) xmtpcache.DecodedMessage {
	return xmtpcache.DecodedMessage{
		Message: xmtpcache.Message{
			ID:                id,
			ConversationTopic: topic,
			SenderAddress:     "0xsender",
			SentAt:            sentAt,
			Encoded:           xmtpcache.EncodedContent{Type: ContentType, Content: []byte(text)},
		},
		Content: text,
	}
}

type fakeTable map[string][]byte

func (f fakeTable) Scan(_ context.Context, prefix string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0, len(f))
	for key := range f {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn(key, f[key]); err != nil {
			return err
		}
	}

	return nil
}
