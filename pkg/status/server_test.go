package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/heitortanoue/rescuebot/pkg/agent"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/scheduler"
)

// Função auxiliar para fazer requests HTTP
func makeHTTPRequest(method, url string) (*http.Response, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// startServer inicia o servidor numa porta livre e retorna a URL base
func startServer(t *testing.T, board *Board, m MetricsSource) (*Server, string) {
	t.Helper()
	server := NewServer(4, 0, board, m)
	server.StreamInterval = 10 * time.Millisecond

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			t.Errorf("Erro ao iniciar servidor: %v", err)
		}
	}()
	t.Cleanup(func() { server.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Servidor não iniciou a tempo")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return server, fmt.Sprintf("http://%s", server.Addr())
}

func testSnapshot(cycle int64) Snapshot {
	return Snapshot{
		Cycle: cycle,
		Agent: agent.Snapshot{
			RobotID:  4,
			Pose:     protocol.Pose{X: 120, Y: 340, Heading: 1},
			Accuracy: 42,
			GoAhead:  true,
			Victims:  []protocol.Victim{{X: 10, Y: 20, ID: "00000000A1"}},
		},
		Scheduler: scheduler.Report{Minor: 100 * time.Millisecond, Cycles: cycle, Feasible: true},
	}
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Erro ao decodificar resposta: %v", err)
	}
	return body
}

func TestBoard_PublishStampsRunID(t *testing.T) {
	board := NewBoard("run-1")

	if _, ok := board.Latest(); ok {
		t.Error("Board vazio não deveria ter snapshot")
	}

	board.Publish(testSnapshot(3))
	snap, ok := board.Latest()
	if !ok {
		t.Fatal("Snapshot deveria estar publicado")
	}
	if snap.RunID != "run-1" || snap.Cycle != 3 {
		t.Errorf("Snapshot inesperado: run=%s cycle=%d", snap.RunID, snap.Cycle)
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	board := NewBoard("run-h")
	_, base := startServer(t, board, nil)

	resp, err := makeHTTPRequest("GET", base+"/health")
	if err != nil {
		t.Fatalf("Erro na requisição: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status esperado 200, obtido %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Robot-ID") != "4" {
		t.Errorf("X-Robot-ID esperado 4, obtido %s", resp.Header.Get("X-Robot-ID"))
	}

	body := decode(t, resp)
	if body["status"] != "healthy" || body["run_id"] != "run-h" {
		t.Errorf("Resposta inesperada: %v", body)
	}
	if body["running"] != false {
		t.Errorf("running deveria ser false antes do primeiro ciclo")
	}
}

func TestServer_UnavailableBeforeFirstCycle(t *testing.T) {
	_, base := startServer(t, NewBoard("run"), nil)

	for _, path := range []string{"/stats", "/victims", "/pose"} {
		resp, err := makeHTTPRequest("GET", base+path)
		if err != nil {
			t.Fatalf("Erro na requisição %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: status esperado 503, obtido %d", path, resp.StatusCode)
		}
	}
}

func TestServer_SnapshotEndpoints(t *testing.T) {
	board := NewBoard("run-s")
	board.Publish(testSnapshot(7))
	_, base := startServer(t, board, nil)

	resp, _ := makeHTTPRequest("GET", base+"/victims")
	body := decode(t, resp)
	if body["count"] != 1.0 {
		t.Errorf("count esperado 1, obtido %v", body["count"])
	}

	resp, _ = makeHTTPRequest("GET", base+"/pose")
	body = decode(t, resp)
	pose := body["pose"].(map[string]interface{})
	if pose["x"] != 120.0 || pose["y"] != 340.0 {
		t.Errorf("Pose inesperada: %v", pose)
	}
	if body["accuracy"] != 42.0 {
		t.Errorf("accuracy esperado 42, obtido %v", body["accuracy"])
	}

	resp, _ = makeHTTPRequest("GET", base+"/stats")
	body = decode(t, resp)
	if body["run_id"] != "run-s" || body["cycle"] != 7.0 {
		t.Errorf("Stats inesperadas: %v", body)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, base := startServer(t, NewBoard("run"), nil)

	resp, err := makeHTTPRequest("POST", base+"/stats")
	if err != nil {
		t.Fatalf("Erro na requisição: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Status esperado 405, obtido %d", resp.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	_, base := startServer(t, NewBoard("run"), nil)
	resp, _ := makeHTTPRequest("GET", base+"/metrics")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("Sem métricas o status deveria ser 501, obtido %d", resp.StatusCode)
	}

	sink := metrics.NewInmemSink(time.Hour, time.Hour)
	sink.IncrCounter([]string{"rescuebot", "scheduler", "overrun"}, 1)
	_, base = startServer(t, NewBoard("run"), sink)

	resp, err := makeHTTPRequest("GET", base+"/metrics")
	if err != nil {
		t.Fatalf("Erro na requisição: %v", err)
	}
	body := decode(t, resp)
	counters, ok := body["Counters"].([]interface{})
	if !ok || len(counters) != 1 {
		t.Fatalf("Esperado 1 contador, obtido %v", body["Counters"])
	}
}

func TestServer_WebsocketStream(t *testing.T) {
	board := NewBoard("run-ws")
	server, _ := startServer(t, board, nil)

	url := fmt.Sprintf("ws://%s/ws", server.Addr())
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Erro ao conectar websocket: %v", err)
	}
	defer c.Close()

	board.Publish(testSnapshot(1))
	c.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap Snapshot
	if err := c.ReadJSON(&snap); err != nil {
		t.Fatalf("Erro ao ler snapshot: %v", err)
	}
	if snap.Cycle != 1 || snap.RunID != "run-ws" {
		t.Errorf("Snapshot inesperado: cycle=%d run=%s", snap.Cycle, snap.RunID)
	}

	board.Publish(testSnapshot(2))
	if err := c.ReadJSON(&snap); err != nil {
		t.Fatalf("Erro ao ler segundo snapshot: %v", err)
	}
	if snap.Cycle != 2 {
		t.Errorf("Cycle esperado 2, obtido %d", snap.Cycle)
	}
}

func TestServer_GetStats(t *testing.T) {
	server := NewServer(4, 8090, NewBoard("run"), nil)
	stats := server.GetStats()
	if stats["status_port"] != 8090 || stats["robot_id"] != 4 {
		t.Errorf("Stats inesperadas: %v", stats)
	}
}
