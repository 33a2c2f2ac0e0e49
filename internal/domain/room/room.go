package room

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/websocket"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn - минимум, который комнате нужно от сокета. *websocket.Client реализует.
type Conn interface {
	Username() string
	Enqueue(data []byte, critical bool) bool
	SendFrame(frameType string, payload interface{}, critical bool) bool
	SendError(message string, code int)
	Close()
}

// ProblemPicker выбирает задачу для комнаты
type ProblemPicker interface {
	ChooseForUsers(ctx context.Context, difficulty domain.Difficulty, usernames []string) (*domain.Problem, error)
}

// Scorer - пост-игровой пайплайн начисления очков (C6)
type Scorer interface {
	FinalizeGame(ctx context.Context, summary *domain.GameSummary) (map[string]domain.RatingChange, error)
}

// Admission - как сокет был допущен в комнату
type Admission int

const (
	AdmittedParticipant Admission = iota
	AdmittedSpectator
)

// waitingIdleTimeout освобождает комнату, в которую так никто и не вошёл
const waitingIdleTimeout = 2 * time.Minute

// scoringTimeout ограничивает блокировку single-writer на записи результатов
const scoringTimeout = 10 * time.Second

type participant struct {
	conn   Conn
	userID *uuid.UUID
}

// lastSubmission - последний прогон участника, попадает в итоговую таблицу
type lastSubmission struct {
	language    string
	passedTests int
	totalTests  int
}

type joinRequest struct {
	conn   Conn
	userID *uuid.UUID
	reply  chan joinReply
}

type joinReply struct {
	as  Admission
	err error
}

type watchRequest struct {
	conn  Conn
	reply chan struct{}
}

type inboundEvent struct {
	conn      Conn
	frameType string
	data      json.RawMessage
}

type submissionOutcome struct {
	sub    *domain.Submission
	result *domain.SubmissionResult
}

type clockKind int

const (
	clockCountdown clockKind = iota
	clockGrace
	clockIdle
)

// Snapshot - консистентный слепок комнаты для читателей вне single-writer
type Snapshot struct {
	Code           string
	Mode           domain.GameMode
	Difficulty     domain.Difficulty
	Phase          domain.RoomPhase
	Players        []string
	Required       int
	SpectatorCount int
	Problem        *domain.Problem
	Winner         *string
	StartedAt      time.Time
}

// Room - один бой. Всё состояние принадлежит горутине run(); внешний мир
// общается с ней только через каналы, поэтому порядок событий для всех
// сокетов комнаты совпадает с порядком на сервере.
type Room struct {
	code       string
	mode       domain.GameMode
	difficulty domain.Difficulty
	required   int
	cfg        config.RoomConfig

	problems  ProblemPicker
	scorer    Scorer
	log       *logger.Logger
	onRelease func(code string)

	join       chan *joinRequest
	watch      chan *watchRequest
	unregister chan Conn
	inbound    chan *inboundEvent
	results    chan *submissionOutcome
	clock      chan clockKind
	done       chan struct{}

	snapshot atomic.Pointer[Snapshot]

	// Всё ниже трогает только run()
	phase           domain.RoomPhase
	participants    []*participant
	spectators      map[Conn]struct{}
	playerCodes     map[string]string
	lastSubmissions map[string]lastSubmission
	problem         *domain.Problem
	startedAt       time.Time
	winner          string
	disconnected    []string // в порядке отключения, для итоговых мест
}

// New создаёт комнату и запускает её single-writer
func New(code string, mode domain.GameMode, difficulty domain.Difficulty, requiredPlayers int, cfg config.RoomConfig, problems ProblemPicker, scorer Scorer, onRelease func(code string), log *logger.Logger) *Room {
	if requiredPlayers < 2 {
		requiredPlayers = 2
	}
	if requiredPlayers > 4 {
		requiredPlayers = 4
	}

	r := &Room{
		code:            code,
		mode:            mode,
		difficulty:      difficulty,
		required:        requiredPlayers,
		cfg:             cfg,
		problems:        problems,
		scorer:          scorer,
		log:             log.WithRoomID(code),
		onRelease:       onRelease,
		join:            make(chan *joinRequest),
		watch:           make(chan *watchRequest),
		unregister:      make(chan Conn, 8),
		inbound:         make(chan *inboundEvent, 64),
		results:         make(chan *submissionOutcome, 8),
		clock:           make(chan clockKind, 4),
		done:            make(chan struct{}),
		phase:           domain.PhaseWaiting,
		spectators:      make(map[Conn]struct{}),
		playerCodes:     make(map[string]string),
		lastSubmissions: make(map[string]lastSubmission),
	}
	r.publishSnapshot()

	time.AfterFunc(waitingIdleTimeout, func() { r.tick(clockIdle) })
	go r.run()
	return r
}

// Code возвращает код комнаты
func (r *Room) Code() string {
	return r.code
}

// Snapshot возвращает последний опубликованный слепок состояния
func (r *Room) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Join допускает сокет на игровой путь. Возвращает, кем сокет был допущен;
// дубликат имени становится зрителем, полная или начавшаяся комната - отказ.
func (r *Room) Join(conn Conn, userID *uuid.UUID) (Admission, error) {
	req := &joinRequest{conn: conn, userID: userID, reply: make(chan joinReply, 1)}
	select {
	case r.join <- req:
	case <-r.done:
		return 0, errors.ErrRoomNotFound
	}
	reply := <-req.reply
	return reply.as, reply.err
}

// Watch допускает сокет как зрителя; spectate_init уходит до возврата
func (r *Room) Watch(conn Conn) error {
	req := &watchRequest{conn: conn, reply: make(chan struct{}, 1)}
	select {
	case r.watch <- req:
	case <-r.done:
		return errors.ErrRoomNotFound
	}
	<-req.reply
	return nil
}

// HandleFrame принимает входящий кадр сокета; вызывается из read pump
func (r *Room) HandleFrame(conn Conn, frameType string, data json.RawMessage) {
	select {
	case r.inbound <- &inboundEvent{conn: conn, frameType: frameType, data: data}:
	case <-r.done:
	default:
		// Комната захлебнулась - событие некритичное, выбрасываем
	}
}

// HandleDisconnect убирает сокет из комнаты; вызывается из OnClose.
// Никогда не блокирует вызывающего: Close может прийти из самой горутины run().
func (r *Room) HandleDisconnect(conn Conn) {
	select {
	case r.unregister <- conn:
	case <-r.done:
	default:
		go func() {
			select {
			case r.unregister <- conn:
			case <-r.done:
			}
		}()
	}
}

// PostResult отдаёт комнате результат прогона; поздний результат завершённой
// комнаты сбрасывается
func (r *Room) PostResult(sub *domain.Submission, result *domain.SubmissionResult) {
	select {
	case r.results <- &submissionOutcome{sub: sub, result: result}:
	case <-r.done:
	}
}

func (r *Room) tick(kind clockKind) {
	select {
	case r.clock <- kind:
	case <-r.done:
	}
}

// run - single-writer комнаты
func (r *Room) run() {
	for {
		select {
		case req := <-r.join:
			req.reply <- r.handleJoin(req.conn, req.userID)

		case req := <-r.watch:
			r.handleWatch(req.conn)
			req.reply <- struct{}{}

		case conn := <-r.unregister:
			if r.handleDisconnect(conn) {
				return
			}

		case ev := <-r.inbound:
			r.handleInbound(ev)

		case outcome := <-r.results:
			r.handleResult(outcome)

		case kind := <-r.clock:
			if r.handleClock(kind) {
				return
			}
		}
	}
}

func (r *Room) handleJoin(conn Conn, userID *uuid.UUID) joinReply {
	username := conn.Username()

	if r.mode == domain.ModeRanked && userID == nil {
		return joinReply{err: errors.ErrRankedRequiresAuth}
	}

	if r.phase != domain.PhaseWaiting || len(r.participants) >= r.required {
		return joinReply{err: errors.ErrRoomFull}
	}

	for _, p := range r.participants {
		if p.conn.Username() == username {
			// Дубликат имени смотрит, а не играет
			r.admitSpectator(conn)
			return joinReply{as: AdmittedSpectator}
		}
	}

	r.participants = append(r.participants, &participant{conn: conn, userID: userID})

	r.broadcast(websocket.FrameUserJoined, websocket.UserJoinedPayload{
		Username:  username,
		Timestamp: time.Now().UnixMilli(),
	}, false)
	r.broadcast(websocket.FramePlayerCount, websocket.PlayerCountPayload{
		Current:  len(r.participants),
		Required: r.required,
	}, false)

	r.log.Info("Participant joined",
		zap.String("username", username),
		zap.Int("participants", len(r.participants)),
	)

	if len(r.participants) == r.required {
		r.startGame()
	}

	r.publishSnapshot()
	return joinReply{as: AdmittedParticipant}
}

func (r *Room) handleWatch(conn Conn) {
	r.admitSpectator(conn)
	r.publishSnapshot()
}

func (r *Room) admitSpectator(conn Conn) {
	r.spectators[conn] = struct{}{}
	conn.SendFrame(websocket.FrameSpectateInit, r.spectateInit(), true)
}

func (r *Room) spectateInit() websocket.SpectateInitPayload {
	payload := websocket.SpectateInitPayload{
		RoomID:         r.code,
		Players:        r.usernames(),
		GameMode:       r.mode,
		GameStarted:    r.phase == domain.PhasePlaying || r.phase == domain.PhaseEnded,
		GameEnded:      r.phase == domain.PhaseEnded,
		Problem:        r.problem,
		PlayerCodes:    copyCodes(r.playerCodes),
		SpectatorCount: len(r.spectators),
	}
	if r.winner != "" {
		w := r.winner
		payload.Winner = &w
	}
	return payload
}

// startGame выбирает задачу и переводит комнату в Countdown
func (r *Room) startGame() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	problem, err := r.problems.ChooseForUsers(ctx, r.difficulty, r.usernames())
	if err != nil {
		r.log.LogError("Failed to pick a problem, closing room", err)
		r.broadcast(websocket.FrameError, websocket.ErrorPayload{
			Message: "failed to assign a problem",
			Code:    500,
		}, true)
		r.endAbandoned()
		return
	}

	r.problem = problem
	r.phase = domain.PhaseCountdown

	r.broadcast(websocket.FrameProblemAssigned, websocket.ProblemAssignedPayload{Problem: problem}, true)
	r.broadcast(websocket.FrameGameStart, struct{}{}, true)

	r.log.Info("Game starting",
		zap.String("problem_id", problem.ID.String()),
		zap.String("difficulty", string(problem.Difficulty)),
	)

	time.AfterFunc(r.cfg.CountdownDuration, func() { r.tick(clockCountdown) })
}

func (r *Room) handleClock(kind clockKind) bool {
	switch kind {
	case clockCountdown:
		if r.phase == domain.PhaseCountdown {
			r.phase = domain.PhasePlaying
			r.startedAt = time.Now()
			r.publishSnapshot()
		}

	case clockIdle:
		if r.phase == domain.PhaseWaiting && len(r.participants) == 0 {
			r.release()
			return true
		}

	case clockGrace:
		if r.phase == domain.PhaseEnded {
			r.release()
			return true
		}
	}
	return false
}

func (r *Room) handleInbound(ev *inboundEvent) {
	switch ev.frameType {
	case websocket.FrameCodeChange:
		r.handleCodeChange(ev)
	case websocket.FrameUserJoined:
		// Сервер сам объявляет входы; клиентское приветствие ничего не меняет
	default:
		ev.conn.SendError("unknown message kind: "+ev.frameType, 400)
	}
}

func (r *Room) handleCodeChange(ev *inboundEvent) {
	if !r.isParticipant(ev.conn) {
		ev.conn.SendError("spectators cannot edit code", 403)
		return
	}
	if r.phase != domain.PhaseCountdown && r.phase != domain.PhasePlaying {
		return
	}

	var payload websocket.CodeChangePayload
	if err := json.Unmarshal(ev.data, &payload); err != nil {
		ev.conn.SendError("malformed code_change", 400)
		return
	}

	username := ev.conn.Username()
	r.playerCodes[username] = payload.Code
	payload.Username = username
	if payload.Timestamp == 0 {
		payload.Timestamp = time.Now().UnixMilli()
	}

	data, err := websocket.Marshal(websocket.FrameCodeChange, payload)
	if err != nil {
		return
	}

	// Отправитель своё эхо не получает
	for _, p := range r.participants {
		if p.conn != ev.conn {
			p.conn.Enqueue(data, false)
		}
	}
	for spec := range r.spectators {
		spec.Enqueue(data, false)
	}
}

// handleResult - решение о победителе. Выполняется строго последовательно,
// поэтому Ended-переход делает ровно одна отправка.
func (r *Room) handleResult(outcome *submissionOutcome) {
	username := outcome.sub.Username
	result := outcome.result

	r.lastSubmissions[username] = lastSubmission{
		language:    outcome.sub.Language,
		passedTests: result.PassedTests,
		totalTests:  result.TotalTests,
	}

	if result.Passed && r.phase == domain.PhasePlaying && r.winner == "" {
		r.finishWithWinner(username, result)
		return
	}

	// Проигравшие и опоздавшие видят только свой результат
	if conn := r.participantConn(username); conn != nil {
		conn.SendFrame(websocket.FrameSubmissionResult, websocket.SubmissionResultPayload{Result: result}, true)
	}
}

func (r *Room) finishWithWinner(username string, result *domain.SubmissionResult) {
	r.winner = username
	r.phase = domain.PhaseEnded
	solveTime := time.Since(r.startedAt).Milliseconds()

	r.broadcast(websocket.FrameSubmissionResult, websocket.SubmissionResultPayload{Result: result}, true)

	summary := r.buildSummary(username, solveTime)

	ratingChanges := make(map[string]domain.RatingChange, len(summary.Standings))
	for _, st := range summary.Standings {
		ratingChanges[st.Username] = domain.RatingChange{}
	}

	if r.scorer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), scoringTimeout)
		changes, err := r.scorer.FinalizeGame(ctx, summary)
		cancel()
		if err != nil {
			// Партия для клиентов всё равно завершается; рейтинги нулевые
			r.log.LogError("Failed to persist game results", err)
		} else {
			for player, change := range changes {
				ratingChanges[player] = change
			}
		}
	}

	winner := username
	problemID := r.problem.ID
	r.broadcast(websocket.FrameGameOver, websocket.GameOverPayload{
		Winner:        &winner,
		SolveTimeMs:   &solveTime,
		ProblemID:     &problemID,
		Difficulty:    summary.Difficulty,
		GameMode:      r.mode,
		Players:       r.standingUsernames(summary),
		RatingChanges: ratingChanges,
	}, true)

	r.log.Info("Game over",
		zap.String("winner", username),
		zap.Int64("solve_time_ms", solveTime),
	)

	r.publishSnapshot()
	time.AfterFunc(r.cfg.GracePeriod, func() { r.tick(clockGrace) })
}

// buildSummary собирает итоговую таблицу: победитель, затем оставшиеся в
// порядке входа, затем отключившиеся в порядке отключения
func (r *Room) buildSummary(winner string, solveTimeMs int64) *domain.GameSummary {
	difficulty := r.difficulty
	if difficulty == domain.DifficultyAny && r.problem != nil {
		difficulty = r.problem.Difficulty
	}

	summary := &domain.GameSummary{
		RoomCode:   r.code,
		Problem:    r.problem,
		Mode:       r.mode,
		Difficulty: difficulty,
	}

	addStanding := func(username string, userID *uuid.UUID) {
		st := domain.PlayerStanding{
			Username:  username,
			UserID:    userID,
			Placement: len(summary.Standings) + 1,
		}
		if last, ok := r.lastSubmissions[username]; ok {
			st.PassedTests = last.passedTests
			st.TotalTests = last.totalTests
			st.Language = last.language
		}
		if username == winner {
			t := solveTimeMs
			st.SolveTimeMs = &t
		}
		summary.Standings = append(summary.Standings, st)
	}

	for _, p := range r.participants {
		if p.conn.Username() == winner {
			addStanding(winner, p.userID)
			break
		}
	}
	for _, p := range r.participants {
		if p.conn.Username() != winner {
			addStanding(p.conn.Username(), p.userID)
		}
	}
	for _, username := range r.disconnected {
		addStanding(username, nil)
	}

	return summary
}

func (r *Room) standingUsernames(summary *domain.GameSummary) []string {
	names := make([]string, 0, len(summary.Standings))
	for _, st := range summary.Standings {
		names = append(names, st.Username)
	}
	return names
}

// handleDisconnect убирает сокет; возвращает true, когда run() должен выйти
func (r *Room) handleDisconnect(conn Conn) bool {
	if _, ok := r.spectators[conn]; ok {
		delete(r.spectators, conn)
		r.publishSnapshot()
		return false
	}

	idx := -1
	for i, p := range r.participants {
		if p.conn == conn {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	username := r.participants[idx].conn.Username()
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	if r.phase != domain.PhaseEnded {
		r.disconnected = append(r.disconnected, username)
	}

	r.broadcast(websocket.FrameUserLeft, websocket.UserLeftPayload{Username: username}, false)
	if r.phase == domain.PhaseWaiting {
		r.broadcast(websocket.FramePlayerCount, websocket.PlayerCountPayload{
			Current:  len(r.participants),
			Required: r.required,
		}, false)
	}

	r.log.Info("Participant left",
		zap.String("username", username),
		zap.Int("participants", len(r.participants)),
	)

	// Последний участник ушёл до конца партии - комната брошена
	if len(r.participants) == 0 && r.phase != domain.PhaseEnded {
		r.endAbandoned()
	}

	r.publishSnapshot()
	return false
}

// endAbandoned завершает комнату без победителя и без записи результатов
func (r *Room) endAbandoned() {
	r.phase = domain.PhaseEnded

	difficulty := r.difficulty
	if difficulty == domain.DifficultyAny && r.problem != nil {
		difficulty = r.problem.Difficulty
	}
	var problemID *uuid.UUID
	if r.problem != nil {
		id := r.problem.ID
		problemID = &id
	}

	r.broadcast(websocket.FrameGameOver, websocket.GameOverPayload{
		Winner:        nil,
		ProblemID:     problemID,
		Difficulty:    difficulty,
		GameMode:      r.mode,
		Players:       r.usernames(),
		RatingChanges: map[string]domain.RatingChange{},
	}, true)

	r.log.Info("Room abandoned")

	r.publishSnapshot()
	time.AfterFunc(r.cfg.GracePeriod, func() { r.tick(clockGrace) })
}

// release окончательно освобождает комнату
func (r *Room) release() {
	close(r.done)
	if r.onRelease != nil {
		r.onRelease(r.code)
	}
	for _, p := range r.participants {
		p.conn.Close()
	}
	for spec := range r.spectators {
		spec.Close()
	}
	r.log.Info("Room released")
}

// broadcast рассылает кадр всем сокетам комнаты в серверном порядке
func (r *Room) broadcast(frameType string, payload interface{}, critical bool) {
	data, err := websocket.Marshal(frameType, payload)
	if err != nil {
		r.log.LogError("Failed to marshal broadcast frame", err, zap.String("type", frameType))
		return
	}

	for _, p := range r.participants {
		p.conn.Enqueue(data, critical)
	}
	for spec := range r.spectators {
		spec.Enqueue(data, critical)
	}
}

func (r *Room) isParticipant(conn Conn) bool {
	for _, p := range r.participants {
		if p.conn == conn {
			return true
		}
	}
	return false
}

func (r *Room) participantConn(username string) Conn {
	for _, p := range r.participants {
		if p.conn.Username() == username {
			return p.conn
		}
	}
	return nil
}

func (r *Room) usernames() []string {
	names := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		names = append(names, p.conn.Username())
	}
	return names
}

func (r *Room) publishSnapshot() {
	snap := &Snapshot{
		Code:           r.code,
		Mode:           r.mode,
		Difficulty:     r.difficulty,
		Phase:          r.phase,
		Players:        r.usernames(),
		Required:       r.required,
		SpectatorCount: len(r.spectators),
		Problem:        r.problem,
		StartedAt:      r.startedAt,
	}
	if r.winner != "" {
		w := r.winner
		snap.Winner = &w
	}
	r.snapshot.Store(snap)
}

func copyCodes(codes map[string]string) map[string]string {
	out := make(map[string]string, len(codes))
	for k, v := range codes {
		out[k] = v
	}
	return out
}
