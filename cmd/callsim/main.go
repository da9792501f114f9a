// Command callsim plays Twilio's side of a media stream against the relay:
// it sends connected/start/media/stop events with μ-law audio and measures
// how quickly synthesized audio comes back.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
)

// frameMs is Twilio's media frame duration; 160 μ-law bytes at 8 kHz.
const frameMs = 20

func main() {
	gateway := flag.String("gateway", "ws://localhost:8000/media-stream", "relay media-stream URL")
	concurrency := flag.Int("concurrency", 1, "number of concurrent callers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	speech := flag.Duration("speech", 2*time.Second, "length of the caller tone")
	listen := flag.Duration("listen", 10*time.Second, "how long to wait for the reply after speaking")
	flag.Parse()

	fmt.Printf("Call simulation: %d concurrent calls for %s\n", *concurrency, *duration)
	fmt.Printf("Gateway: %s\n\n", *gateway)

	var mu sync.Mutex
	var results []callResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				r := runCall(*gateway, *speech, *listen)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type callResult struct {
	success     bool
	firstReply  float64
	mediaFrames int
	clears      int
	err         string
}

func runCall(gateway string, speech, listen time.Duration) callResult {
	conn, _, err := websocket.DefaultDialer.Dial(gateway, nil)
	if err != nil {
		return callResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	streamSID := "MZ" + uuid.NewString()
	callSID := "CA" + uuid.NewString()

	for _, msg := range []string{connectedEvent(), startEvent(streamSID, callSID)} {
		if err = conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return callResult{err: fmt.Sprintf("send %s: %v", gjson.Get(msg, "event").String(), err)}
		}
	}

	received := make(chan callResult, 1)
	var spokeAt time.Time
	var spokeMu sync.Mutex
	go func() {
		received <- readReplies(conn, func() time.Time {
			spokeMu.Lock()
			defer spokeMu.Unlock()
			return spokeAt
		})
	}()

	payload := toneUlaw(speech)
	frame := audio.TelephonyRate * frameMs / 1000
	for i, seq := 0, 1; i < len(payload); i, seq = i+frame, seq+1 {
		end := min(i+frame, len(payload))
		msg := mediaEvent(streamSID, seq, payload[i:end])
		if err = conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return callResult{err: fmt.Sprintf("send media: %v", err)}
		}
		time.Sleep(frameMs * time.Millisecond)
	}
	spokeMu.Lock()
	spokeAt = time.Now()
	spokeMu.Unlock()

	time.Sleep(listen)
	stop, _ := sjson.Set(`{"event":"stop"}`, "streamSid", streamSID)
	conn.WriteMessage(websocket.TextMessage, []byte(stop))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := <-received
	if r.mediaFrames == 0 {
		r.err = "no audio received"
		return r
	}
	r.success = true
	return r
}

// readReplies counts media and clear events until the socket closes.
func readReplies(conn *websocket.Conn, spokeAt func() time.Time) callResult {
	var r callResult
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return r
		}
		switch gjson.GetBytes(data, "event").String() {
		case "media":
			r.mediaFrames++
			if r.firstReply == 0 {
				if t := spokeAt(); !t.IsZero() {
					r.firstReply = float64(time.Since(t).Milliseconds())
				}
			}
		case "clear":
			r.clears++
		}
	}
}

func connectedEvent() string {
	s, _ := sjson.Set(`{"event":"connected"}`, "protocol", "Call")
	s, _ = sjson.Set(s, "version", "1.0.0")
	return s
}

func startEvent(streamSID, callSID string) string {
	s, _ := sjson.Set(`{"event":"start"}`, "streamSid", streamSID)
	s, _ = sjson.Set(s, "start.streamSid", streamSID)
	s, _ = sjson.Set(s, "start.callSid", callSID)
	s, _ = sjson.Set(s, "start.tracks", []string{"inbound"})
	s, _ = sjson.Set(s, "start.mediaFormat.encoding", "audio/x-mulaw")
	s, _ = sjson.Set(s, "start.mediaFormat.sampleRate", audio.TelephonyRate)
	s, _ = sjson.Set(s, "start.mediaFormat.channels", 1)
	s, _ = sjson.Set(s, "start.customParameters.from", "+15550100000")
	s, _ = sjson.Set(s, "start.customParameters.to", "+15550199999")
	return s
}

func mediaEvent(streamSID string, seq int, payload []byte) string {
	s, _ := sjson.Set(`{"event":"media"}`, "streamSid", streamSID)
	s, _ = sjson.Set(s, "sequenceNumber", fmt.Sprint(seq))
	s, _ = sjson.Set(s, "media.track", "inbound")
	s, _ = sjson.Set(s, "media.chunk", fmt.Sprint(seq))
	s, _ = sjson.Set(s, "media.timestamp", fmt.Sprint(seq*frameMs))
	s, _ = sjson.Set(s, "media.payload", base64.StdEncoding.EncodeToString(payload))
	return s
}

// toneUlaw generates a noisy 440 Hz tone, loud enough to trip voice activity
// detection, encoded as 8 kHz μ-law.
func toneUlaw(dur time.Duration) []byte {
	n := int(dur.Seconds() * audio.TelephonyRate)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / audio.TelephonyRate
		samples[i] = float32(math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05)
	}
	data, _ := audio.Encode(samples, audio.CodecG711Ulaw)
	return data
}

func printSummary(results []callResult) {
	var succeeded, failed, frames, clears int
	var replies []float64
	errs := map[string]int{}

	for _, r := range results {
		frames += r.mediaFrames
		clears += r.clears
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		if r.firstReply > 0 {
			replies = append(replies, r.firstReply)
		}
	}

	fmt.Printf("\n=== Call Simulation Results ===\n")
	fmt.Printf("Calls completed: %d\n", succeeded)
	fmt.Printf("Calls failed:    %d\n", failed)
	fmt.Printf("Media frames:    %d\n", frames)
	fmt.Printf("Clear events:    %d\n", clears)
	for e, n := range errs {
		fmt.Fprintf(os.Stderr, "  %dx %s\n", n, e)
	}

	if len(replies) == 0 {
		fmt.Println("No replies to report latency")
		return
	}
	fmt.Printf("\n%-12s %8s %8s %8s\n", "", "p50", "p95", "p99")
	fmt.Printf("%-12s %6.0fms %6.0fms %6.0fms\n", "first reply", percentile(replies, 50), percentile(replies, 95), percentile(replies, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
