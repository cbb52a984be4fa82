package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/maizone/config"
)

func TestNapcatStrategySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_cookies" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"domain":"user.qzone.qq.com"`) {
			t.Errorf("unexpected body %s", body)
		}
		_, _ = io.WriteString(w, `{"status":"ok","retcode":0,"data":{"cookies":"uin=o010001; skey=@k; p_skey=ps"}}`)
	}))
	defer srv.Close()

	n := &NapcatStrategy{BaseURL: srv.URL, Token: "secret", Client: srv.Client()}
	s, err := n.Attempt(context.Background())
	if err != nil {
		t.Fatalf("Attempt() failed: %v", err)
	}
	if s.UIN != "10001" || s.Get("p_skey") != "ps" || s.Strategy != StrategyNapcat {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ExpiresAt.IsZero() {
		t.Fatalf("napcat session should carry an expiry")
	}
}

func TestNapcatStrategyFillsMissingUIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok","data":{"cookies":"p_skey=ps; skey=k"}}`)
	}))
	defer srv.Close()

	n := &NapcatStrategy{BaseURL: srv.URL, UIN: "0010001", Client: srv.Client()}
	s, err := n.Attempt(context.Background())
	if err != nil {
		t.Fatalf("Attempt() failed: %v", err)
	}
	if s.Get("uin") != "o010001" || s.UIN != "10001" {
		t.Fatalf("uin not filled: %+v", s)
	}
}

func TestNapcatStrategyDoesNotRetryRejectedToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := &NapcatStrategy{BaseURL: srv.URL, Client: srv.Client(), Backoff: time.Millisecond}
	_, err := n.Attempt(context.Background())
	if err == nil || !strings.Contains(err.Error(), "token rejected") {
		t.Fatalf("expected token rejected error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("403 should not be retried, got %d calls", calls.Load())
	}
}

func TestNapcatStrategyRetriesUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	n := &NapcatStrategy{BaseURL: base, Attempts: 2, Backoff: time.Millisecond, Client: &http.Client{Timeout: time.Second}}
	start := time.Now()
	_, err := n.Attempt(context.Background())
	if err == nil {
		t.Fatalf("expected error for unreachable napcat")
	}
	if time.Since(start) < time.Millisecond {
		t.Fatalf("expected a backoff between attempts")
	}
}

func TestNapcatStrategyBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"failed","message":"not logged in"}`)
	}))
	defer srv.Close()

	n := &NapcatStrategy{BaseURL: srv.URL, Client: srv.Client()}
	if _, err := n.Attempt(context.Background()); err == nil {
		t.Fatalf("expected error for failed status")
	}
}

func TestClientKeyStrategyFlow(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/xlogin", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "pt_local_token", Value: "tok"})
	})
	mux.HandleFunc("/pt_get_st", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pt_local_tk") != "tok" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if c, err := r.Cookie("pt_local_token"); err != nil || c.Value != "tok" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Referer") != "https://ssl.xui.ptlogin2.qq.com/" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "clientkey", Value: "ck"})
	})
	mux.HandleFunc("/jump", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("clientkey") != "ck" || r.URL.Query().Get("clientuin") != "10001" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, srvURL+"/check_sig?ptsigx=1", http.StatusFound)
	})
	mux.HandleFunc("/check_sig", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "uin", Value: "o010001"})
		http.SetCookie(w, &http.Cookie{Name: "p_skey", Value: "ps"})
		http.SetCookie(w, &http.Cookie{Name: "skey", Value: "sk"})
		http.Redirect(w, r, "https://user.qzone.qq.com/10001/infocenter", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := NewClientKeyStrategy("10001", 0, srv.Client())
	c.XLoginURL = srv.URL + "/cgi-bin/xlogin"
	c.LocalBase = srv.URL
	c.JumpBase = srv.URL

	s, err := c.Attempt(context.Background())
	if err != nil {
		t.Fatalf("Attempt() failed: %v", err)
	}
	if s.UIN != "10001" || s.Get("p_skey") != "ps" || s.Get("skey") != "sk" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Get("clientkey") != "" {
		t.Fatalf("handshake cookies should not leak into the session")
	}
}

func TestClientKeyStrategyQQNotRunning(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/xlogin", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "pt_local_token", Value: "tok"})
	})
	mux.HandleFunc("/pt_get_st", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClientKeyStrategy("10001", 0, srv.Client())
	c.XLoginURL = srv.URL + "/cgi-bin/xlogin"
	c.LocalBase = srv.URL
	c.JumpBase = srv.URL

	if _, err := c.Attempt(context.Background()); err == nil {
		t.Fatalf("expected error when pt_get_st answers 400")
	}
}

func qrServer(t *testing.T, expire bool) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/ptqrshow", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "qrsig", Value: "sig"})
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	})
	mux.HandleFunc("/ptqrlogin", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("qrsig"); err != nil || c.Value != "sig" {
			t.Errorf("poll without qrsig cookie")
		}
		if r.URL.Query().Get("ptqrtoken") != PtQRToken("sig") {
			t.Errorf("unexpected ptqrtoken %s", r.URL.Query().Get("ptqrtoken"))
		}
		if expire {
			_, _ = io.WriteString(w, "ptuiCB('65','0','','0','二维码已失效。(4165476029)', '')")
			return
		}
		if polls.Add(1) < 2 {
			_, _ = io.WriteString(w, "ptuiCB('66','0','','0','二维码未失效。(1234)', '')")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "superuin", Value: "o010001"})
		_, _ = io.WriteString(w, "ptuiCB('0','0','"+srvURL+"/check_sig?pttype=1&uin=10001&service=ptqrlogin&ptsigx=abc123&s_url=x','0','登录成功！', 'bot')")
	})
	mux.HandleFunc("/check_sig", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ptsigx") != "abc123" || r.URL.Query().Get("uin") != "10001" {
			t.Errorf("unexpected check_sig query %s", r.URL.RawQuery)
		}
		http.SetCookie(w, &http.Cookie{Name: "p_skey", Value: "ps"})
		http.SetCookie(w, &http.Cookie{Name: "skey", Value: "sk"})
		http.Redirect(w, r, "https://qzs.qzone.qq.com/", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	srvURL = srv.URL
	return srv
}

func newTestQR(srv *httptest.Server, presenter QRPresenter) *QRCodeStrategy {
	q := NewQRCodeStrategy(presenter, 5*time.Second, srv.Client())
	q.PollInterval = 10 * time.Millisecond
	q.ShowURL = srv.URL + "/ptqrshow"
	q.PollURL = srv.URL + "/ptqrlogin"
	q.CheckSigURL = srv.URL + "/check_sig"
	return q
}

func TestQRCodeStrategyLogin(t *testing.T) {
	srv := qrServer(t, false)
	defer srv.Close()

	var presented []byte
	var q *QRCodeStrategy
	q = newTestQR(srv, QRPresenterFunc(func(_ context.Context, png []byte) error {
		presented = png
		if latest, ok := q.Latest(); !ok || string(latest) != "PNGDATA" {
			t.Errorf("Latest() should expose the pending qr code")
		}
		return nil
	}))

	s, err := q.Attempt(context.Background())
	if err != nil {
		t.Fatalf("Attempt() failed: %v", err)
	}
	if string(presented) != "PNGDATA" {
		t.Fatalf("presenter got %q", presented)
	}
	if s.UIN != "10001" || s.Get("p_skey") != "ps" || s.Strategy != StrategyQRCode {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ExpiresAt.Sub(s.AcquiredAt) != DefaultTTL {
		t.Fatalf("qr session should be valid for %v", DefaultTTL)
	}
	if _, ok := q.Latest(); ok {
		t.Fatalf("qr code should be cleared after login")
	}
}

func TestQRCodeStrategyExpired(t *testing.T) {
	srv := qrServer(t, true)
	defer srv.Close()

	q := newTestQR(srv, QRPresenterFunc(func(context.Context, []byte) error { return nil }))
	if _, err := q.Attempt(context.Background()); !errors.Is(err, ErrQRCodeExpired) {
		t.Fatalf("expected ErrQRCodeExpired, got %v", err)
	}
}

func TestQRCodeStrategyTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ptqrshow", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "qrsig", Value: "sig"})
		_, _ = w.Write([]byte("PNG"))
	})
	mux.HandleFunc("/ptqrlogin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ptuiCB('66','0','','0','二维码未失效。', '')")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	q := newTestQR(srv, nil)
	q.Timeout = 50 * time.Millisecond
	if _, err := q.Attempt(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMultiPresenter(t *testing.T) {
	failing := QRPresenterFunc(func(context.Context, []byte) error { return errors.New("no admin online") })
	var delivered bool
	working := QRPresenterFunc(func(context.Context, []byte) error { delivered = true; return nil })

	if err := (MultiPresenter{failing, working}).Present(context.Background(), []byte("x")); err != nil {
		t.Fatalf("one working presenter should be enough: %v", err)
	}
	if !delivered {
		t.Fatalf("working presenter was not called")
	}
	if err := (MultiPresenter{failing}).Present(context.Background(), []byte("x")); err == nil {
		t.Fatalf("all presenters failing should return an error")
	}
}

func TestBuildStrategiesOrder(t *testing.T) {
	cfg := &config.Config{}
	cfg.Bot.QQ = "10001"
	cfg.Napcat.Host = "127.0.0.1"
	cfg.Napcat.Port = 9999
	cfg.Session.Strategies = []string{"cache", "napcat", "qrcode"}

	strategies, qr, err := BuildStrategies(cfg, NewFileStore(t.TempDir()), nil, nil)
	if err != nil {
		t.Fatalf("BuildStrategies() failed: %v", err)
	}
	var names []string
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	if strings.Join(names, ",") != "cache,napcat,qrcode" {
		t.Fatalf("strategy order = %v", names)
	}
	if qr == nil {
		t.Fatalf("qrcode strategy should be returned")
	}

	cfg.Session.Strategies = []string{"telepathy"}
	if _, _, err := BuildStrategies(cfg, nil, nil, nil); err == nil {
		t.Fatalf("unknown strategy should fail")
	}
}
