package composer

// languageTemplate holds every localized string fragment needed to render
// Prompts for one language. Adding a language is a data change here, never a
// change to composer.go's branching logic.
type languageTemplate struct {
	code            string
	voiceHint       string
	greeting        string // vendor name, order id, items
	prepTimeInquiry string
	rejectionReason string
	goodbyeAccepted string // prep minutes
	goodbyeRejected string
	goodbyeNoResponse string
	noInputRetry    string
	itemFormat      string // quantity, name
	andMore         string // remainder count
	noItems         string
}

// templates maps language code to its template table.
var templates = map[string]languageTemplate{
	"hi": {
		code:              "hi",
		voiceHint:         "hi-IN",
		greeting:          "Namaste, yeh Mangwale se call hai. %s ke liye, order number %d aaya hai. Order mein hai: %s. Accept karne ke liye 1 dabaayen, reject karne ke liye 0 dabaayen.",
		prepTimeInquiry:   "Order kitne minute mein taiyaar hoga? 15 minute ke liye 1, 30 minute ke liye 2, ya 45 minute ke liye 3 dabaayen.",
		rejectionReason:   "Order reject karne ka kaaran bataayen. Item uplabdh nahi hai toh 1, bahut vyast hain toh 2, stock khatam hai toh 3, ya koi aur kaaran ho toh 4 dabaayen.",
		goodbyeAccepted:   "Dhanyavaad. Rider %d minute mein pahunchega.",
		goodbyeRejected:   "Dhanyavaad, hum order doosre vendor ko bhej rahe hain.",
		goodbyeNoResponse: "Maaf kijiye, hum aapse sampark nahi kar paaye. Dhanyavaad.",
		noInputRetry:      "Kripya dobaara koshish karein.",
		itemFormat:        "%d %s",
		andMore:           ", aur %d anya cheezein",
		noItems:           "kuch cheezein",
	},
	"en": {
		code:              "en",
		voiceHint:         "en-IN",
		greeting:          "Hello, this is Mangwale calling for %s. You have a new order, number %d. The order contains: %s. Press 1 to accept, or 0 to reject.",
		prepTimeInquiry:   "How many minutes will the order take? Press 1 for 15 minutes, 2 for 30 minutes, or 3 for 45 minutes.",
		rejectionReason:   "Please tell us why you're rejecting this order. Press 1 if the item is not available, 2 if you're too busy, 3 if you're out of stock, or 4 for another reason.",
		goodbyeAccepted:   "Thank you. A rider will arrive in %d minutes.",
		goodbyeRejected:   "Thank you, we are reassigning this order.",
		goodbyeNoResponse: "We're sorry, we were unable to reach you. Thank you.",
		noInputRetry:      "Please try again.",
		itemFormat:        "%d %s",
		andMore:           ", and %d more items",
		noItems:           "some items",
	},
	"mr": {
		code:              "mr",
		voiceHint:         "mr-IN",
		greeting:          "Namaskar, hi Mangwale kadun call ahe. %s sathi, order kramank %d aala ahe. Ordermadhye ahe: %s. Swikarnyasathi 1 dabaa, nakarnyasathi 0 dabaa.",
		prepTimeInquiry:   "Order kiti minitaat taiyar hoil? 15 minitansathi 1, 30 minitansathi 2, kinva 45 minitansathi 3 dabaa.",
		rejectionReason:   "Order nakarnyache karan sanga. Vastu uplabdh nasel tar 1, khup vyasta asal tar 2, stock sampla asel tar 3, kinva dusre karan asel tar 4 dabaa.",
		goodbyeAccepted:   "Dhanyavad. Rider %d minitaat pohochel.",
		goodbyeRejected:   "Dhanyavad, amhi order dusrya vendor kade pathavat aahot.",
		goodbyeNoResponse: "Kshama asava, amhi sampark karu shaklo nahi. Dhanyavad.",
		noInputRetry:      "Krupaya punha prayatna kara.",
		itemFormat:        "%d %s",
		andMore:           ", ani %d itar vastu",
		noItems:           "kahi vastu",
	},
}
