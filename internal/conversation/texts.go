package conversation

const (
	textShareLocationButton = "📍 Share location"
	textLocationPrompt      = "📍 Please share your location so I can look for places near you."
	textCategoryPrompt      = "Hi, %s! What are you looking for? Pick a category below or type your own."
	textRadiusPrompt        = "How far should I look for %s?"
	textNotFound            = "Sorry, this place was not found nearby 😔"
	textBackButton          = "🔙 Back"
	textFarewell            = "Your data has been deleted. Send /start whenever you want to search again."

	noticeFirstPage   = "You are already on the first page"
	noticeLastPage    = "You are already on the last page"
	noticeGoingBack   = "Going back"
	noticeOutdated    = "This list is outdated, please start a new search"
	noticeUnsupported = "Unsupported action"
	noticeBadRadius   = "This radius is not available"
	noticeNoLocation  = "Please share your location first"
	noticeNoCategory  = "Please choose a category first"

	markerBoundary = "⛔️"
	markerPrev     = "⬅️"
	markerNext     = "➡️"

	// TryItButton labels the control attached to broadcast messages.
	TryItButton = "Try it"
)
