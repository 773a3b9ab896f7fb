package email

import (
	"strings"
	"testing"
)

func parseRaw(t *testing.T, raw string) *Message {
	t.Helper()
	msg := &Message{}
	raw = strings.ReplaceAll(raw, "\n", "\r\n")
	if err := extractTextBody(msg, strings.NewReader(raw)); err != nil {
		t.Fatalf("extractTextBody: %v", err)
	}
	return msg
}

func TestExtractTextBody_Plain(t *testing.T) {
	msg := parseRaw(t, `From: alice@acme.com
To: me@ourco.com
Subject: renewal
Content-Type: text/plain; charset=utf-8

Let's talk about the renewal next week.
`)
	if msg.TextBody != "Let's talk about the renewal next week." {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
}

func TestExtractTextBody_MultipartPrefersPlain(t *testing.T) {
	msg := parseRaw(t, `From: alice@acme.com
Subject: alt
Content-Type: multipart/alternative; boundary=xyz

--xyz
Content-Type: text/plain

plain wins
--xyz
Content-Type: text/html

<p>html loses</p>
--xyz--
`)
	if msg.TextBody != "plain wins" {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
}

func TestExtractTextBody_HTMLOnlyFallsBack(t *testing.T) {
	msg := parseRaw(t, `From: alice@acme.com
Subject: html
Content-Type: multipart/alternative; boundary=xyz

--xyz
Content-Type: text/html

<html><body><p>Contract is <b>signed</b>.</p></body></html>
--xyz--
`)
	if !strings.Contains(msg.TextBody, "Contract is") || !strings.Contains(msg.TextBody, "signed") {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
	if strings.ContainsAny(msg.TextBody, "<>") {
		t.Errorf("TextBody still contains markup: %q", msg.TextBody)
	}
}

func TestExtractTextBody_NestedMultipart(t *testing.T) {
	msg := parseRaw(t, `From: alice@acme.com
Subject: nested
Content-Type: multipart/mixed; boundary=outer

--outer
Content-Type: multipart/alternative; boundary=inner

--inner
Content-Type: text/plain

nested body
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="q.pdf"

JVBERi0=
--outer--
`)
	if msg.TextBody != "nested body" {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
}

func TestExtractTextBody_AttachmentsSkipped(t *testing.T) {
	msg := parseRaw(t, `From: alice@acme.com
Subject: attach
Content-Type: multipart/mixed; boundary=abc

--abc
Content-Type: text/plain
Content-Disposition: attachment; filename="notes.txt"

attachment text must not leak
--abc
Content-Type: text/plain

real body
--abc--
`)
	if msg.TextBody != "real body" {
		t.Errorf("TextBody = %q", msg.TextBody)
	}
}

func TestExtractTextBody_Truncation(t *testing.T) {
	big := strings.Repeat("x", maxBodyBytes+100)
	msg := parseRaw(t, `From: alice@acme.com
Subject: big
Content-Type: text/plain

`+big+`
`)
	if len(msg.TextBody) > maxBodyBytes+64 {
		t.Errorf("TextBody length %d exceeds cap", len(msg.TextBody))
	}
	if !strings.HasSuffix(msg.TextBody, "[truncated]") {
		t.Error("truncated body lacks marker")
	}
}

func TestExtractTextBody_UnknownCharsetTolerated(t *testing.T) {
	msg := parseRaw(t, `From: alice@acme.com
Subject: charset
Content-Type: text/plain; charset=x-mystery

still readable
`)
	if msg.TextBody == "" {
		t.Error("unknown charset dropped the body entirely")
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags("<div>one</div>\n<p>two   three</p>")
	if !strings.Contains(got, "one") || !strings.Contains(got, "two three") {
		t.Errorf("stripTags = %q", got)
	}
}

func TestParseClassifierHeaders(t *testing.T) {
	raw := "List-Unsubscribe: <mailto:leave@svc.com>,\r\n <https://svc.com/u>\r\nPrecedence: bulk\r\n\r\n"
	unsub, prec := parseClassifierHeaders([]byte(raw))
	if !strings.Contains(unsub, "mailto:leave@svc.com") || !strings.Contains(unsub, "https://svc.com/u") {
		t.Errorf("unsubscribe = %q", unsub)
	}
	if prec != "bulk" {
		t.Errorf("precedence = %q", prec)
	}
}

func TestParseClassifierHeaders_Absent(t *testing.T) {
	unsub, prec := parseClassifierHeaders([]byte("Subject: hi\r\n\r\n"))
	if unsub != "" || prec != "" {
		t.Errorf("got %q, %q, want empty", unsub, prec)
	}
}
