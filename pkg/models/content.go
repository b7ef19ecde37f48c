package models

// Project is the payload of a portfolio project.
type Project struct {
	Title               string   `json:"title"`
	ShortDescription    string   `json:"shortDescription,omitempty"`
	DetailedDescription string   `json:"detailedDescription,omitempty"`
	Technologies        []string `json:"technologies,omitempty"`
	GithubLink          string   `json:"githubLink,omitempty"`
	LiveLink            string   `json:"liveLink,omitempty"`
	VideoURL            string   `json:"videoUrl,omitempty"`
	ImageURL            string   `json:"imageUrl,omitempty"`
	AdditionalImages    []string `json:"additionalImages,omitempty"`
}

// Hackathon is the payload of a hackathon write-up.
type Hackathon struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Date               string   `json:"date,omitempty"`
	TeamSize           string   `json:"teamSize,omitempty"`
	Position           string   `json:"position,omitempty"`
	ProjectTitle       string   `json:"projectTitle,omitempty"`
	ProjectDescription string   `json:"projectDescription,omitempty"`
	Technologies       []string `json:"technologies,omitempty"`
	GithubLink         string   `json:"githubLink,omitempty"`
	DemoLink           string   `json:"demoLink,omitempty"`
	ImageURL           string   `json:"imageUrl,omitempty"`
	CertificateURL     string   `json:"certificateUrl,omitempty"`
}

// BlogPost is the payload of a blog post.
type BlogPost struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Content  string   `json:"content,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
	ReadTime string   `json:"readTime,omitempty"`
}
