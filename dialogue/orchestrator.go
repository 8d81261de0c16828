package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sat8bit/nexus/audio"
	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/buslog"
	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/supervisor"
	"github.com/sat8bit/nexus/turn"
)

const (
	DefaultPoseDwell = 8 * time.Second
	// FallbackText は応答の生成に失敗したときにキャラクターが返す定型文です。
	FallbackText = "Neural link interference detected. Please re-attempt signal."
	questTimeout = 2 * time.Minute
	idleTimeout  = time.Minute
)

var (
	ErrEmptyTurn     = errors.New("dialogue: empty message")
	ErrClosed        = errors.New("dialogue: session closed")
	ErrUnknownQuest  = errors.New("dialogue: unknown quest")
	ErrNotInGallery  = errors.New("dialogue: image is not part of the gallery")
	ErrNothingToDraw = errors.New("dialogue: modification request is empty")
)

type View string

const (
	ViewChat    View = "chat"
	ViewGallery View = "gallery"
	ViewShop    View = "shop"
	ViewVault   View = "vault"
	ViewProfile View = "profile"
)

type Config struct {
	SessionID string
	Gateway   gateway.Gateway
	Catalog   *relationship.Catalog
	// Bus が nil なら内部で MemoryBus を作ります。
	Bus       bus.Bus
	Turns     turn.Manager
	Player    *audio.Player
	PoseDwell time.Duration
	IdleAfter time.Duration
	Now       func() time.Time
	NewID     func() string
}

// Orchestrator は1セッション分の対話を進めます。
// 状態の変更はすべて mu の下で行い、生成 API の呼び出し中はロックを持ちません。
type Orchestrator struct {
	id      string
	gw      gateway.Gateway
	catalog *relationship.Catalog
	bus     bus.Bus
	turns   turn.Manager
	player  *audio.Player
	idle    *supervisor.Supervisor
	dwell   time.Duration
	now     func() time.Time
	newID   func() string
	log     *slog.Logger

	mu        sync.Mutex
	ch        *character.Character
	st        *relationship.State
	pose      message.Emotion
	poseSeq   uint64
	poseTimer *time.Timer
	pinned    *character.ImageAsset
	view      View
	// epoch は改名やリセットで進み、古い非同期処理の結果を捨てるのに使います。
	epoch   uint64
	closed  bool
	pending sync.WaitGroup
}

func New(cfg Config, ch *character.Character, st *relationship.State) *Orchestrator {
	o := &Orchestrator{
		id:      cfg.SessionID,
		gw:      cfg.Gateway,
		catalog: cfg.Catalog,
		bus:     cfg.Bus,
		turns:   cfg.Turns,
		player:  cfg.Player,
		dwell:   cfg.PoseDwell,
		now:     cfg.Now,
		newID:   cfg.NewID,
		ch:      ch,
		st:      st,
		pose:    message.EmotionNeutral,
		view:    ViewChat,
	}
	if o.bus == nil {
		o.bus = bus.NewMemoryBus()
	}
	if o.turns == nil {
		o.turns = turn.NewMutexManager()
	}
	if o.dwell <= 0 {
		o.dwell = DefaultPoseDwell
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	o.log = slog.Default().With(buslog.SessionKey, o.id)
	o.idle = supervisor.NewSupervisor(cfg.IdleAfter, o.onIdle)
	return o
}

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) Bus() bus.Bus { return o.bus }

// Start は無操作監視を始めます。
func (o *Orchestrator) Start() {
	o.idle.Start(o.bus)
}

// Close はタイマーと再生を止め、以降の非同期処理の結果を捨てます。
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.epoch++
	o.poseSeq++
	if o.poseTimer != nil {
		o.poseTimer.Stop()
	}
	o.mu.Unlock()

	o.idle.Stop()
	if o.player != nil {
		o.player.Stop()
	}
}

// Wait は裏で走っているクエスト差し替えが終わるまで待ちます。
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// TurnResult は1ターン分の結果です。
type TurnResult struct {
	Reply    message.Chat         `json:"reply"`
	Fallback bool                 `json:"fallback"`
	Pose     message.Emotion      `json:"pose"`
	Reward   *relationship.Reward `json:"reward,omitempty"`
	Speech   []byte               `json:"-"`
}

// TryHandleTurn は進行中のターンがあれば turn.ErrBusy を返し、なければ HandleTurn します。
func (o *Orchestrator) TryHandleTurn(ctx context.Context, text string) (*TurnResult, error) {
	if err := o.turns.TryAcquire(); err != nil {
		return nil, err
	}
	defer o.turns.Release()
	return o.handleTurn(ctx, text)
}

// HandleTurn は前のターンが終わるのを待ってからユーザーの発話を処理します。
// 生成に失敗した場合は定型の応答を履歴に加え、エラーは返しません。
func (o *Orchestrator) HandleTurn(ctx context.Context, text string) (*TurnResult, error) {
	if err := o.turns.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("dialogue.Orchestrator.HandleTurn: %w", err)
	}
	defer o.turns.Release()
	return o.handleTurn(ctx, text)
}

func (o *Orchestrator) handleTurn(ctx context.Context, text string) (*TurnResult, error) {
	text = trimTurn(text)
	if text == "" {
		return nil, ErrEmptyTurn
	}

	// 1. ユーザーの発話は生成の前に履歴へ積む
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	history := append([]message.Chat(nil), o.st.ChatHistory...)
	userMsg := message.Chat{Role: message.RoleUser, Text: text}
	o.st.AppendChat(userMsg)
	gctx := gateway.Context{
		System:  turnSystemPrompt(o.ch, o.st),
		History: history,
		Prompt:  text,
	}
	o.mu.Unlock()
	o.idle.Touch()
	o.publishChat(userMsg)

	// 2. 応答の生成
	raw, err := o.gw.SynthesizeStructuredText(ctx, gctx, replySchema)
	var rep *reply
	if err == nil {
		rep, err = parseReply(raw)
	}
	if err != nil {
		return o.fallback(ctx, err), nil
	}

	// 3. 状態への反映
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.st.ApplyChatDelta(rep.AffinityGain, rep.CurrencyGain, rep.DispositionShift)
	modelMsg := message.Chat{Role: message.RoleModel, Text: rep.Text, Emotion: rep.Emotion, Choices: rep.Choices}
	o.st.AppendChat(modelMsg)
	if o.pinned == nil {
		o.setPoseLocked(rep.Emotion)
	}
	res := &TurnResult{Reply: modelMsg, Pose: o.pose}
	if rep.QuestComplete && o.st.ActiveQuest != "" {
		reward := o.completeQuestLocked()
		res.Reward = &reward
	}
	tts := o.st.TTSEnabled
	voice := o.ch.VoicePrompt
	o.mu.Unlock()

	o.publishChat(modelMsg)
	o.publishState()
	o.publish(&message.Message{Kind: message.KindPose, Text: string(res.Pose)})
	if res.Reward != nil {
		o.publish(&message.Message{Kind: message.KindQuest, Text: "Quest complete: " + res.Reward.Title, Meta: map[string]string{"rewardId": res.Reward.ID}})
	}

	// 5. 読み上げ。失敗しても会話は巻き戻さない
	if tts {
		res.Speech = o.speak(ctx, rep.Text, voice)
	}
	o.idle.Touch()
	return res, nil
}

func (o *Orchestrator) fallback(ctx context.Context, cause error) *TurnResult {
	o.log.WarnContext(ctx, "turn generation failed, using fallback", "error", cause)
	msg := message.Chat{Role: message.RoleModel, Text: FallbackText, Emotion: message.EmotionThoughtful}

	o.mu.Lock()
	o.st.AppendChat(msg)
	if o.pinned == nil {
		o.setPoseLocked(message.EmotionThoughtful)
	}
	pose := o.pose
	o.mu.Unlock()

	o.publishChat(msg)
	o.publish(&message.Message{Kind: message.KindPose, Text: string(pose)})
	return &TurnResult{Reply: msg, Fallback: true, Pose: pose}
}

func (o *Orchestrator) speak(ctx context.Context, text, voice string) []byte {
	pcm, err := o.gw.SynthesizeSpeech(ctx, text, voice)
	if err != nil {
		o.log.WarnContext(ctx, "speech synthesis failed", "error", err)
		return nil
	}
	if o.player != nil {
		o.player.Play(pcm)
	}
	o.publish(&message.Message{Kind: message.KindAudio, Data: pcm, Meta: map[string]string{"format": "pcm16", "sampleRate": "24000"}})
	return pcm
}

func (o *Orchestrator) publishChat(m message.Chat) {
	c := m
	o.publish(&message.Message{Kind: message.KindChat, Chat: &c})
}

func (o *Orchestrator) publishState() {
	o.publish(&message.Message{Kind: message.KindState})
}

func (o *Orchestrator) publish(m *message.Message) {
	m.SessionID = o.id
	if m.At.IsZero() {
		m.At = o.now()
	}
	if err := o.bus.Broadcast(m); err != nil && !errors.Is(err, bus.ErrClosed) {
		o.log.Error("broadcast failed", "kind", m.Kind, "error", err)
	}
}
