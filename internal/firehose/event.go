package firehose

const (
	collectionPost   = "app.bsky.feed.post"
	collectionRepost = "app.bsky.feed.repost"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. At most one of
// Post and Repost is set, depending on Collection.
type jetstreamCommit struct {
	Rev        string        `json:"rev"`
	Operation  string        `json:"operation"`
	Collection string        `json:"collection"`
	RKey       string        `json:"rkey"`
	CID        string        `json:"cid"`
	Post       *postRecord   `json:"-"`
	Repost     *repostRecord `json:"-"`
}

// postRecord is the parsed content of an app.bsky.feed.post record.
type postRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
}

// repostRecord is the parsed content of an app.bsky.feed.repost record.
type repostRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// replyRef contains references to the parent and root of a reply chain.
type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

// strongRef is a reference to a specific version of a record.
type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// subscriberMessage is a message sent to Jetstream over the open socket.
type subscriberMessage struct {
	Type    string         `json:"type"`
	Payload optionsPayload `json:"payload"`
}

type optionsPayload struct {
	WantedCollections []string `json:"wantedCollections"`
	WantedDIDs        []string `json:"wantedDids"`
}
