package conversation

import (
	"time"

	"din/internal/project"
	"din/internal/protocol"
	"din/internal/scene"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Message is one entry of the chat transcript. A pending model message is the
// placeholder shown while a reply is awaited.
type Message struct {
	ID          string                `json:"id"`
	Role        Role                  `json:"role"`
	Text        string                `json:"text"`
	Suggestions []protocol.Suggestion `json:"suggestions,omitempty"`
	Pending     bool                  `json:"isTyping,omitempty"`
	SceneImage  string                `json:"sceneImage,omitempty"`
	CreatedAt   time.Time             `json:"timestamp"`
}

// TurnState is the position of the controller in the request/response cycle.
type TurnState string

const (
	TurnIdle          TurnState = "idle"
	TurnAwaitingReply TurnState = "awaiting_reply"
	TurnSettled       TurnState = "settled"
	TurnFailed        TurnState = "failed"
	// TurnDiscarded marks a reply that arrived after the session was reset.
	TurnDiscarded TurnState = "discarded"
)

// TurnResult describes how an accepted submission resolved.
type TurnResult struct {
	Status     TurnState            `json:"status"`
	Message    Message              `json:"message"`
	NewScenes  []scene.Scene        `json:"newScenes,omitempty"`
	FinalBrief *protocol.MetaPrompt `json:"finalBrief,omitempty"`
	Outcome    string               `json:"outcome,omitempty"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Messages []Message        `json:"messages"`
	Project  project.Snapshot `json:"project"`
	Turn     TurnState        `json:"turnState"`
}

const (
	GreetingText = "안녕하세요. 당신의 영상 제작 파트너 Din입니다.\n아이디어를 멋진 영상 기획안으로 만들어 드리겠습니다.\n어떤 영상을 만들고 싶으신가요?"
	// ApologyText replaces the placeholder when a turn fails.
	ApologyText = "연결 오류가 발생했습니다. 다시 시도해 주세요."
	// EmptyReplyText stands in for a reply without any text.
	EmptyReplyText = "죄송합니다. 처리 중에 문제가 발생했습니다."
)

// Starter is a quick-start prompt offered before the first submission.
type Starter struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

var starters = []Starter{
	{Label: "영화/드라마", Prompt: "영화나 드라마 시나리오를 쓰고 싶어. 장르와 소재를 추천해줘."},
	{Label: "애니메이션", Prompt: "애니메이션 영상을 기획하고 싶어. 비주얼 스타일과 스토리를 제안해줘."},
	{Label: "나레이션 영상", Prompt: "나레이션이 중심이 되는 에세이 영상을 만들고 싶어. 주제를 추천해줘."},
	{Label: "광고 영상", Prompt: "짧고 강렬한 광고 영상을 기획하고 싶어. 아이디어를 제안해줘."},
	{Label: "요리/레시피", Prompt: "요리 레시피 영상을 기획하고 싶어. 스타일을 같이 정해보자."},
	{Label: "브이로그", Prompt: "일상이나 여행 브이로그를 기획하고 싶어. 어떤 컨셉이 좋을지 제안해줘."},
}

// Starters returns the quick-start prompts.
func Starters() []Starter {
	return append([]Starter(nil), starters...)
}
