package crypto

import (
	"strings"
	"testing"
)

type payload struct {
	Event string `json:"event"`
	Limit int    `json:"limit"`
}

func TestAESGCMRoundTrip(t *testing.T) {
	enc, err := NewAESGCM("secret-key")
	if err != nil {
		t.Fatalf("NewAESGCM 失败: %v", err)
	}

	in := payload{Event: "concert", Limit: 250}
	sealed, err := enc.EncryptJSON(in)
	if err != nil {
		t.Fatalf("EncryptJSON 失败: %v", err)
	}
	if strings.Contains(sealed, "concert") {
		t.Fatal("密文不应包含明文字段")
	}

	var out payload
	if err := enc.DecryptJSON(sealed, &out); err != nil {
		t.Fatalf("DecryptJSON 失败: %v", err)
	}
	if out != in {
		t.Fatalf("往返结果不一致: %#v != %#v", out, in)
	}
}

func TestAESGCMWrongKey(t *testing.T) {
	enc1, _ := NewAESGCM("key-one")
	enc2, _ := NewAESGCM("key-two")

	sealed, err := enc1.EncryptJSON(payload{Event: "concert"})
	if err != nil {
		t.Fatalf("EncryptJSON 失败: %v", err)
	}

	var out payload
	if err := enc2.DecryptJSON(sealed, &out); err == nil {
		t.Fatal("错误密钥解密应失败")
	}
}

func TestAESGCMEmptyKey(t *testing.T) {
	if _, err := NewAESGCM(""); err == nil {
		t.Fatal("空密钥应报错")
	}
}

func TestAESGCMTruncatedPayload(t *testing.T) {
	enc, _ := NewAESGCM("secret-key")

	var out payload
	if err := enc.DecryptJSON("YWJj", &out); err == nil {
		t.Fatal("截断密文应报错")
	}
}

func TestPlaintextRoundTrip(t *testing.T) {
	enc := Plaintext{}

	sealed, err := enc.EncryptJSON(payload{Event: "concert", Limit: 1})
	if err != nil {
		t.Fatalf("EncryptJSON 失败: %v", err)
	}
	if !strings.Contains(sealed, "concert") {
		t.Fatal("Plaintext 应存储裸 JSON")
	}

	var out payload
	if err := enc.DecryptJSON(sealed, &out); err != nil {
		t.Fatalf("DecryptJSON 失败: %v", err)
	}
	if out.Event != "concert" || out.Limit != 1 {
		t.Fatalf("往返结果不一致: %#v", out)
	}
}
