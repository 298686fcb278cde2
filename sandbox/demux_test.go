package sandbox

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLineAssembler(t *testing.T) {
	t.Run("SplitsCompleteLines", func(t *testing.T) {
		a := NewLineAssembler(100)
		lines, overflow := a.Feed("one\ntwo\nthree\n")
		assert.False(t, overflow)
		assert.Equal(t, []string{"one\n", "two\n", "three\n"}, lines)
		_, ok := a.Flush()
		assert.False(t, ok)
	})

	t.Run("JoinsAcrossChunks", func(t *testing.T) {
		a := NewLineAssembler(100)

		lines, _ := a.Feed("hel")
		assert.Empty(t, lines)
		lines, _ = a.Feed("lo\nwor")
		assert.Equal(t, []string{"hello\n"}, lines)
		lines, _ = a.Feed("ld\n")
		assert.Equal(t, []string{"world\n"}, lines)
	})

	t.Run("FlushReturnsUnterminatedTail", func(t *testing.T) {
		a := NewLineAssembler(100)
		lines, _ := a.Feed("done\nno newline")
		assert.Equal(t, []string{"done\n"}, lines)

		rest, ok := a.Flush()
		require.True(t, ok)
		assert.Equal(t, "no newline", rest)

		_, ok = a.Flush()
		assert.False(t, ok)
	})

	t.Run("EmptyLinesArePreserved", func(t *testing.T) {
		a := NewLineAssembler(100)
		lines, _ := a.Feed("\n\nx\n")
		assert.Equal(t, []string{"\n", "\n", "x\n"}, lines)
	})

	t.Run("OverflowOnLongUnterminatedLine", func(t *testing.T) {
		a := NewLineAssembler(10)
		lines, overflow := a.Feed("ok\n" + strings.Repeat("x", 6))
		assert.False(t, overflow)
		assert.Equal(t, []string{"ok\n"}, lines)

		lines, overflow = a.Feed(strings.Repeat("x", 5))
		assert.True(t, overflow)
		assert.Empty(t, lines)
	})

	t.Run("LimitIsInclusive", func(t *testing.T) {
		a := NewLineAssembler(10)
		_, overflow := a.Feed(strings.Repeat("x", 10))
		assert.False(t, overflow)
	})

	t.Run("TerminatedLongLineIsNotAnOverflow", func(t *testing.T) {
		a := NewLineAssembler(10)
		long := strings.Repeat("y", 50) + "\n"
		lines, overflow := a.Feed(long)
		assert.False(t, overflow)
		assert.Equal(t, []string{long}, lines)
	})
}

func TestDemuxerClassify(t *testing.T) {
	d := NewDemuxer(zaptest.NewLogger(t), "", 0)

	tests := []struct {
		name   string
		line   string
		want   Message
		wantOK bool
	}{
		{
			name:   "PlainOutput",
			line:   "hi\n",
			want:   Write{Stream: StreamStdout, Data: "hi\n"},
			wantOK: true,
		},
		{
			name:   "SentinelNotAtStart",
			line:   "say --MSG--{\"msgtype\":\"draw\"}\n",
			want:   Write{Stream: StreamStdout, Data: "say --MSG--{\"msgtype\":\"draw\"}\n"},
			wantOK: true,
		},
		{
			name: "Control",
			line: `--MSG--{"msgtype":"draw","function":"circle","x":10,"y":10,"d":5}` + "\n",
			want: Control{Type: "draw", Payload: map[string]any{
				"function": "circle", "x": float64(10), "y": float64(10), "d": float64(5),
			}},
			wantOK: true,
		},
		{
			name:   "ControlWithSpaceAfterSentinel",
			line:   `--MSG-- {"msgtype":"clear"}`,
			want:   Control{Type: "clear", Payload: map[string]any{}},
			wantOK: true,
		},
		{
			name: "InvalidJSON",
			line: "--MSG--{not json\n",
		},
		{
			name: "NotAnObject",
			line: "--MSG--[1,2,3]\n",
		},
		{
			name: "Null",
			line: "--MSG--null\n",
		},
		{
			name: "MissingDiscriminator",
			line: `--MSG--{"function":"circle"}` + "\n",
		},
		{
			name: "NonStringDiscriminator",
			line: `--MSG--{"msgtype":7}` + "\n",
		},
		{
			name: "ReservedExitStatus",
			line: `--MSG--{"msgtype":"exitstatus","exitstatus":0}` + "\n",
		},
		{
			name: "ReservedWrite",
			line: `--MSG--{"msgtype":"write","data":"x"}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := d.Classify(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, msg)
		})
	}

	t.Run("CustomSentinel", func(t *testing.T) {
		custom := NewDemuxer(zaptest.NewLogger(t), "@@", 0)
		msg, ok := custom.Classify(`@@{"msgtype":"draw"}`)
		require.True(t, ok)
		assert.Equal(t, KindControl, msg.Kind())

		msg, ok = custom.Classify(`--MSG--{"msgtype":"draw"}`)
		require.True(t, ok)
		assert.Equal(t, KindWrite, msg.Kind())
	})
}

func drainAll(t *testing.T, d *Demuxer, r io.Reader) ([]Message, DrainStats, error) {
	t.Helper()
	var got []Message
	stats, err := d.Drain(r, func(m Message) bool {
		got = append(got, m)
		return true
	})
	return got, stats, err
}

func TestDemuxerDrain(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("ByteAtATime", func(t *testing.T) {
		d := NewDemuxer(logger, "", 0)
		input := "a\n--MSG--{\"msgtype\":\"draw\",\"x\":1}\nb\nc"
		got, stats, err := drainAll(t, d, iotest.OneByteReader(strings.NewReader(input)))
		require.NoError(t, err)

		assert.Equal(t, []Message{
			Write{Stream: StreamStdout, Data: "a\n"},
			Control{Type: "draw", Payload: map[string]any{"x": float64(1)}},
			Write{Stream: StreamStdout, Data: "b\n"},
			Write{Stream: StreamStdout, Data: "c"},
		}, got)
		assert.Equal(t, 4, stats.Lines)
		assert.Equal(t, 1, stats.Controls)
		assert.False(t, stats.Truncated)
	})

	t.Run("NLinesProduceNWrites", func(t *testing.T) {
		d := NewDemuxer(logger, "", 0)
		var b strings.Builder
		want := make([]Message, 0, 500)
		for i := range 500 {
			line := strings.Repeat("z", i%70) + "\n"
			b.WriteString(line)
			want = append(want, Write{Stream: StreamStdout, Data: line})
		}

		got, _, err := drainAll(t, d, iotest.HalfReader(strings.NewReader(b.String())))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("MalformedControlDropped", func(t *testing.T) {
		d := NewDemuxer(logger, "", 0)
		got, stats, err := drainAll(t, d, strings.NewReader("x\n--MSG--{oops\ny\n"))
		require.NoError(t, err)
		assert.Equal(t, []Message{
			Write{Stream: StreamStdout, Data: "x\n"},
			Write{Stream: StreamStdout, Data: "y\n"},
		}, got)
		assert.Equal(t, 1, stats.Dropped)
	})

	t.Run("GuardStopsReading", func(t *testing.T) {
		d := NewDemuxer(logger, "", 1000)
		r := &chunkReader{chunks: []string{"before\n", strings.Repeat("x", 600), strings.Repeat("x", 600), "after\n"}}

		got, stats, err := drainAll(t, d, r)
		require.NoError(t, err)
		assert.Equal(t, []Message{Write{Stream: StreamStdout, Data: "before\n"}}, got)
		assert.True(t, stats.Truncated)
		assert.Equal(t, len("after\n"), r.remaining())
	})

	t.Run("EmitFalseStops", func(t *testing.T) {
		d := NewDemuxer(logger, "", 0)
		var got []Message
		stats, err := d.Drain(strings.NewReader("1\n2\n3\n"), func(m Message) bool {
			got = append(got, m)
			return len(got) < 2
		})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.True(t, stats.Stopped)
	})

	t.Run("ReadErrorIsReturned", func(t *testing.T) {
		d := NewDemuxer(logger, "", 0)
		boom := errors.New("boom")
		r := io.MultiReader(strings.NewReader("partial\n"), iotest.ErrReader(boom))

		got, _, err := drainAll(t, d, r)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, []Message{Write{Stream: StreamStdout, Data: "partial\n"}}, got)
	})

	t.Run("MultiByteRunesSplitAcrossReads", func(t *testing.T) {
		d := NewDemuxer(logger, "", 0)
		got, _, err := drainAll(t, d, iotest.OneByteReader(strings.NewReader("héllo ✓\n")))
		require.NoError(t, err)
		assert.Equal(t, []Message{Write{Stream: StreamStdout, Data: "héllo ✓\n"}}, got)
	})
}
