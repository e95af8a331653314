package models

type SimilarityPostRequest struct {
	// Query to rank the items against.
	Query string `json:"query"`

	// Items are the candidates to rank.
	Items []SimilarityItem `json:"items"`
}

type SimilarityItem struct {
	// ID is assigned by the caller and returned with the score.
	ID string `json:"id"`

	// Texts describe the item, e.g. title, description and use cases.
	Texts []string `json:"texts"`
}

type SimilarityPostResponse struct {
	// Scores are ordered by descending score.
	Scores []SimilarityScore `json:"scores"`
}

type SimilarityScore struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
