package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher delivers a digest of repeated log entries.
type Publisher interface {
	PublishDigest(ctx context.Context, digest Digest) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // unique entries that force an early flush
	Publisher      Publisher
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Digest is one flushed window of aggregated entries, most frequent first.
type Digest struct {
	From    time.Time            `json:"from"`
	To      time.Time            `json:"to"`
	Entries []AggregatedLogEntry `json:"entries"`
}

// Total returns the number of raw log lines folded into the digest.
func (d Digest) Total() int {
	var n int
	for _, e := range d.Entries {
		n += e.Count
	}
	return n
}

type LogCollector struct {
	config      *CollectionConfig
	logMap      map[string]*AggregatedLogEntry
	windowStart time.Time
	mutex       sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 5 * time.Minute
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 50
	}
	ctx, cancel := context.WithCancel(context.Background())

	collector := &LogCollector{
		config:      config,
		logMap:      make(map[string]*AggregatedLogEntry),
		windowStart: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	collector.wg.Add(1)
	go collector.periodicFlush()

	return collector
}

func (d *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := d.generateKey(level, message, fields, caller)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if entry, exists := d.logMap[key]; exists {
		entry.Count++
		entry.LastSeen = now
	} else {
		d.logMap[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(d.logMap) >= d.config.CountThreshold {
		d.flushLogs()
	}
}

// generateKey ignores the error text so that the same failure on many
// symbols collapses into one entry.
func (d *LogCollector) generateKey(level, message string, fields map[string]interface{}, caller string) string {
	stable := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "error" || k == "symbol" || k == "run_id" {
			continue
		}
		stable[k] = v
	}
	data := struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, stable, caller}

	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return fmt.Sprintf("%x", hash)
}

func (d *LogCollector) periodicFlush() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mutex.Lock()
			d.flushLogs()
			d.mutex.Unlock()
		case <-d.ctx.Done():
			d.mutex.Lock()
			d.flushLogs()
			d.mutex.Unlock()
			return
		}
	}
}

// flushLogs must be called with the mutex held.
func (d *LogCollector) flushLogs() {
	now := time.Now()
	if len(d.logMap) == 0 {
		d.windowStart = now
		return
	}

	digest := Digest{From: d.windowStart, To: now, Entries: make([]AggregatedLogEntry, 0, len(d.logMap))}
	for _, entry := range d.logMap {
		digest.Entries = append(digest.Entries, *entry)
	}
	sort.Slice(digest.Entries, func(i, j int) bool {
		if digest.Entries[i].Count != digest.Entries[j].Count {
			return digest.Entries[i].Count > digest.Entries[j].Count
		}
		return digest.Entries[i].FirstSeen.Before(digest.Entries[j].FirstSeen)
	})

	d.logMap = make(map[string]*AggregatedLogEntry)
	d.windowStart = now

	if d.config.Publisher == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := d.config.Publisher.PublishDigest(ctx, digest); err != nil {
			fmt.Fprintf(os.Stderr, "failed to publish log digest: %v\n", err)
		}
	}()
}

func (d *LogCollector) Close() {
	d.cancel()
	d.wg.Wait()
}
