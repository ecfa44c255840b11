package audit

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/ratewarden/ratewarden/internal/models"
	"golang.org/x/time/rate"
)

type event struct {
	kind     string
	payload  map[string]interface{}
	severity models.Severity
}

// Logger is the security-log collaborator boundary: fire-and-forget, never
// blocks the admission path. Emission is rate-capped so a sustained anomaly
// storm cannot flood the sink.
type Logger struct {
	queue   chan event
	limiter *rate.Limiter
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewLogger(queueSize int, eventsPerSecond float64) *Logger {
	if queueSize <= 0 {
		queueSize = 256
	}

	return &Logger{
		queue:   make(chan event, queueSize),
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), int(eventsPerSecond)+1),
		quit:    make(chan struct{}),
	}
}

func (l *Logger) Start() {
	l.wg.Add(1)
	go l.worker()
}

func (l *Logger) Stop() {
	close(l.quit)
	l.wg.Wait()
}

func (l *Logger) LogSecurityEvent(kind string, payload map[string]interface{}, severity models.Severity) {
	select {
	case l.queue <- event{kind: kind, payload: payload, severity: severity}:
	default:
		// Queue full; the admission path must not block on auditing
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()

	for {
		select {
		case ev := <-l.queue:
			l.emit(ev)
		case <-l.quit:
			for {
				select {
				case ev := <-l.queue:
					l.emit(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(ev event) {
	if !l.limiter.Allow() {
		return
	}

	payload, _ := json.Marshal(ev.payload)
	log.Printf("SECURITY [%s] %s %s", ev.severity, ev.kind, payload)
}
