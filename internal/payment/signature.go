// Package payment は有料アクティビティ参加の決済ゲートを提供する。
// 注文の作成・確定・キャンセルの状態機械と、決済プロバイダの
// コールバック署名の検証を担う。チェックアウトUIそのものはプロバイダ側がホストする。
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureVerifier は決済プロバイダのコールバック署名を検証する。
// 署名はHMAC-SHA256("注文ID|決済ID", webhookシークレット)の16進表現。
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier はSignatureVerifierを生成する。
func NewSignatureVerifier(webhookSecret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(webhookSecret)}
}

// Sign は注文IDと決済IDの組に対する署名を16進文字列で返す。
func (v *SignatureVerifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify は署名が期待値と一致するかを定数時間で検証する。
func (v *SignatureVerifier) Verify(orderID, paymentID, signature string) bool {
	expected := v.Sign(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
