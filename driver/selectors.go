package driver

// selector is one way of finding a target: a CSS query, optionally narrowed
// by a regular expression over the element's text.
type selector struct {
	css  string
	text string
}

// selectors lists lookups per target, most specific first.
var selectors = map[Target][]selector{
	TargetConnectButton: {
		{css: `main button[aria-label*="Invite"][aria-label*="connect"]`},
		{css: `button.pvs-profile-actions__action[aria-label*="connect" i]`},
		{css: `main .pv-top-card button`, text: `^\s*Connect\s*$`},
	},
	TargetMoreActions: {
		{css: `main button[aria-label="More actions"]`},
		{css: `main button.artdeco-dropdown__trigger[aria-label*="More"]`},
	},
	TargetMoreConnect: {
		{css: `div.artdeco-dropdown__content div[aria-label*="Invite"][aria-label*="connect"]`},
		{css: `div.artdeco-dropdown__content [role="button"]`, text: `^\s*Connect\s*$`},
	},
	TargetAddNote: {
		{css: `button[aria-label="Add a note"]`},
		{css: `div[role="dialog"] button`, text: `Add a note`},
	},
	TargetNoteInput: {
		{css: `textarea[name="message"]`},
		{css: `textarea#custom-message`},
		{css: `div[role="dialog"] textarea`},
	},
	TargetSendInvite: {
		{css: `button[aria-label="Send now"]`},
		{css: `button[aria-label="Send invitation"]`},
		{css: `div[role="dialog"] button.artdeco-button--primary`, text: `^\s*Send`},
	},
	TargetSendWithoutNote: {
		{css: `button[aria-label="Send without a note"]`},
		{css: `div[role="dialog"] button`, text: `Send without a note`},
	},
	TargetPendingBadge: {
		{css: `main button[aria-label*="Pending"]`},
		{css: `main .pv-top-card button`, text: `^\s*Pending\s*$`},
	},
	TargetConnectedBadge: {
		{css: `main .pv-top-card .dist-value`, text: `1st`},
		{css: `main .pv-top-card--list .distance-badge`, text: `1st`},
	},
	TargetErrorToast: {
		{css: `[data-test-artdeco-toast-item-type="error"]`},
		{css: `.artdeco-toast--error`},
	},
	TargetInviteLimitBanner: {
		{css: `.ip-fuse-limit-alert__warning`},
		{css: `[class*="invitation-limit"]`},
	},
	TargetProfileName: {
		{css: `main h1.text-heading-xlarge`},
		{css: `main h1`},
	},
	TargetProfileHeadline: {
		{css: `main div.text-body-medium.break-words`},
	},
	TargetMessageButton: {
		{css: `main button.pvs-profile-actions__action[aria-label*="Message"]`},
		{css: `main button[aria-label^="Message"]`},
	},
	TargetMessageInput: {
		{css: `div.msg-form__contenteditable[contenteditable="true"]`},
		{css: `div[role="textbox"][contenteditable="true"]`},
		{css: `textarea.msg-form__textarea`},
	},
	TargetMessageSend: {
		{css: `button.msg-form__send-button`},
		{css: `button[type="submit"]`, text: `^\s*Send\s*$`},
	},
	TargetLoginEmail: {
		{css: `input#username`},
	},
	TargetLoginPassword: {
		{css: `input#password`},
	},
	TargetLoginSubmit: {
		{css: `button[type="submit"]`},
	},
}
