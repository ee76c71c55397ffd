// Package events はドメインイベントのAMQP発行を提供する。
// 発行は任意機能で、接続情報が設定されていない環境では各サービスに
// nilを渡して無効化する。発行失敗は呼び出し側で警告ログに留め、
// 本体の処理は失敗させない。
package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher はトピックエクスチェンジへのイベント発行クライアント。
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher はAMQPブローカーに接続し、発行先のトピックエクスチェンジを宣言する。
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("AMQPブローカーへの接続に失敗しました: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("AMQPチャネルのオープンに失敗しました: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("エクスチェンジの宣言に失敗しました: %w", err)
	}

	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishJSON はペイロードをJSONにエンコードしてルーティングキーに発行する。
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return fmt.Errorf("イベントの発行に失敗しました: %w", err)
	}

	return nil
}

// Close はチャネルと接続を閉じる。
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
