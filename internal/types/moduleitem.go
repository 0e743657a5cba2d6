package types

// ItemType is the module item discriminator as it appears in exports.
type ItemType string

const (
	ItemPage         ItemType = "Page"
	ItemAssignment   ItemType = "Assignment"
	ItemQuiz         ItemType = "Quiz"
	ItemDiscussion   ItemType = "Discussion"
	ItemFile         ItemType = "File"
	ItemExternalURL  ItemType = "ExternalUrl"
	ItemExternalTool ItemType = "ExternalTool"
	ItemSubHeader    ItemType = "SubHeader"
)

// NormalizeItemType folds legacy spellings ("DiscussionTopic", "Attachment")
// into the canonical set. Unknown types pass through unchanged so the caller
// can report them.
func NormalizeItemType(raw string) ItemType {
	switch raw {
	case "DiscussionTopic":
		return ItemDiscussion
	case "Attachment":
		return ItemFile
	default:
		return ItemType(raw)
	}
}

// ModuleItem is one membership record: a module's reference to a member
// entity, as exported.
type ModuleItem struct {
	ItemID      int64    `json:"id"` // the source module-item id, not the member's id
	Type        ItemType `json:"type"`
	ContentID   int64    `json:"content_id,omitempty"` // zero for Page, SubHeader, ExternalUrl
	PageSlug    string   `json:"page_url,omitempty"`
	Title       string   `json:"title"`
	Position    *int     `json:"position,omitempty"`
	Published   bool     `json:"published"`
	Indent      int      `json:"indent,omitempty"`
	ExternalURL string   `json:"external_url,omitempty"`
	NewTab      bool     `json:"new_tab,omitempty"`
}

// ItemRef is the resolved, target-side reference a module item carries. The
// variant set is closed: payload construction is an exhaustive type switch,
// not string dispatch.
type ItemRef interface {
	isItemRef()
}

// PageRef points at a page by its target slug.
type PageRef struct{ Slug string }

// AssignmentRef points at an assignment by its target id.
type AssignmentRef struct{ ID int64 }

// QuizRef points at a quiz by its target id.
type QuizRef struct{ ID int64 }

// DiscussionRef points at a discussion topic by its target id.
type DiscussionRef struct{ ID int64 }

// FileRef points at a file by its target id.
type FileRef struct{ ID int64 }

// ExternalURLRef carries a plain external link.
type ExternalURLRef struct {
	URL    string
	NewTab bool
}

// ExternalToolRef carries an LTI tool launch link.
type ExternalToolRef struct {
	URL    string
	NewTab bool
}

// SubHeaderRef is a text-only divider; the item's title is the content.
type SubHeaderRef struct{}

func (PageRef) isItemRef()         {}
func (AssignmentRef) isItemRef()   {}
func (QuizRef) isItemRef()         {}
func (DiscussionRef) isItemRef()   {}
func (FileRef) isItemRef()         {}
func (ExternalURLRef) isItemRef()  {}
func (ExternalToolRef) isItemRef() {}
func (SubHeaderRef) isItemRef()    {}
