package agent

import (
	"github.com/dreamup/playtest/internal/browser"
)

// domHelpers is shared by every probe that walks the DOM. docs() yields the
// top document plus every same-origin iframe, with the frame's offset so
// rects stay in top-level viewport coordinates.
const domHelpers = `
const styleOf = (el) => (el.ownerDocument.defaultView || window).getComputedStyle(el);
const visible = (el) => {
	if (!el || !el.getBoundingClientRect) return false;
	const r = el.getBoundingClientRect();
	if (r.width <= 0 || r.height <= 0) return false;
	const st = styleOf(el);
	return st.display !== 'none' && st.visibility !== 'hidden' && parseFloat(st.opacity || '1') > 0.05;
};
const textOf = (el) => String(el.innerText || el.textContent || el.value ||
	el.getAttribute('aria-label') || el.getAttribute('title') || '').replace(/\s+/g, ' ').trim();
const classOf = (el) => (typeof el.className === 'string' ? el.className : '');
const selectorOf = (el) => {
	if (el.id) return '#' + CSS.escape(el.id);
	const cls = classOf(el).trim().split(/\s+/)[0];
	return cls ? el.tagName.toLowerCase() + '.' + CSS.escape(cls) : '';
};
const overlayRe = /modal|overlay|popup|dialog|lightbox|backdrop/i;
const inOverlay = (el) => {
	for (let n = el; n && n.nodeType === 1; n = n.parentElement) {
		if (n.getAttribute('role') === 'dialog' || n.getAttribute('aria-modal') === 'true') return true;
		if (overlayRe.test((n.id || '') + ' ' + classOf(n))) return true;
		const st = styleOf(n);
		const z = parseInt(st.zIndex, 10);
		if ((st.position === 'fixed' || st.position === 'absolute') && z >= 100) return true;
		if (st.position === 'fixed' && /rgba\(0, 0, 0, 0\.[3-9]/.test(st.backgroundColor)) return true;
	}
	return false;
};
const isLayer = (el) => {
	const st = styleOf(el);
	const r = el.getBoundingClientRect();
	return (st.position === 'fixed' || st.position === 'absolute' || parseInt(st.zIndex, 10) >= 100) &&
		r.width * r.height > 40000;
};
const docs = () => {
	const out = [{doc: document, index: 0, dx: 0, dy: 0}];
	Array.from(document.querySelectorAll('iframe')).forEach((f, i) => {
		try {
			const d = f.contentDocument;
			if (!d || !d.body) return;
			const r = f.getBoundingClientRect();
			out.push({doc: d, index: i + 1, dx: r.left, dy: r.top});
		} catch (e) {}
	});
	return out;
};
const rectOf = (el, dx, dy) => {
	const r = el.getBoundingClientRect();
	return {x: r.left + dx, y: r.top + dy, width: r.width, height: r.height};
};
const queryAll = (root, sel) => {
	try { return Array.from(root.querySelectorAll(sel)); } catch (e) { return []; }
};
const scopeSelectors = {
	consent: '[id*="cookie" i], [class*="cookie" i], [id*="consent" i], [class*="consent" i], [id*="gdpr" i], [class*="gdpr" i], [id*="didomi" i], #onetrust-banner-sdk, #onetrust-consent-sdk, .fc-consent-root, .qc-cmp2-container, #truste-consent-track, #CybotCookiebotDialog',
	age: '[id*="age-gate" i], [class*="age-gate" i], [id*="agegate" i], [class*="agegate" i], [id*="age_gate" i], [class*="age_gate" i], [id*="age-verif" i], [class*="age-verif" i], [class*="ageverif" i]',
	ad: '[id*="ad-" i], [class*="ad-" i], [id*="ads-" i], [class*="ads-" i], [class*="advert" i], [id*="advert" i], [class*="sponsor" i], [id*="sponsor" i], [class*="preroll" i], [class*="interstitial" i], [id^="google_ads" i], .adsbygoogle',
	listing: '[class*="game" i], [id*="game" i], [class*="play" i], [id*="play" i], main, article'
};
const clickableSel = 'button, a, [role="button"], input[type="button"], input[type="submit"], [onclick], [class*="btn" i], [class*="button" i]';
`

const aliveBody = `return JSON.stringify(!!document.body);`

const signalsBody = domHelpers + `
const lower = (s) => (s || '').toLowerCase();
const res = {
	scoreText: '', canvas: {present: false, hasContent: false, webgl: false},
	boardActive: false, modalVisible: false, tutorial: false, consent: false,
	ageGate: false, ad: false, levelComplete: false, selectionMenu: false, frames: 0
};
const all = docs();
res.frames = all.length - 1;

const sampleCanvas = (c) => {
	try {
		const probe = document.createElement('canvas');
		probe.width = 32; probe.height = 32;
		const pctx = probe.getContext('2d');
		pctx.drawImage(c, 0, 0, 32, 32);
		const data = pctx.getImageData(0, 0, 32, 32).data;
		for (let i = 3; i < data.length; i += 4) {
			if (data[i] > 0) return 'content';
		}
		return 'blank';
	} catch (e) {
		return 'tainted';
	}
};

for (const d of all) {
	const doc = d.doc;

	if (!res.scoreText) {
		for (const el of queryAll(doc, '[id*="score" i], [class*="score" i], [id*="points" i], [class*="points" i], [id*="counter" i], [class*="counter" i]')) {
			if (!visible(el)) continue;
			const t = textOf(el);
			const m = t.match(/-?\d[\d,.]*/);
			if (m && parseFloat(m[0].replace(/,/g, '')) !== 0) {
				res.scoreText = t.slice(0, 60);
				break;
			}
		}
	}

	let best = null, bestArea = 0;
	for (const c of queryAll(doc, 'canvas')) {
		if (!visible(c)) continue;
		const r = c.getBoundingClientRect();
		if (r.width * r.height > bestArea) { best = c; bestArea = r.width * r.height; }
	}
	if (best && !res.canvas.hasContent) {
		res.canvas.present = true;
		const sampled = sampleCanvas(best);
		if (sampled === 'content' || sampled === 'tainted') {
			res.canvas.hasContent = true;
		} else {
			const hook = (doc.defaultView || window)['` + browser.CanvasKindHook + `'];
			const kind = typeof hook === 'function' ? hook(best) : '';
			if (/webgl/i.test(kind)) {
				res.canvas.webgl = true;
				res.canvas.hasContent = true;
			}
		}
	}

	if (!res.boardActive) {
		let cells = 0, active = 0;
		for (const el of queryAll(doc, '[class*="board" i] > *, [class*="grid" i] > *, [class*="tile" i], [class*="cell" i]')) {
			if (!visible(el)) continue;
			cells++;
			const bg = styleOf(el).backgroundColor;
			if (textOf(el) || (bg && bg !== 'rgba(0, 0, 0, 0)' && bg !== 'transparent')) active++;
			if (cells > 400) break;
		}
		res.boardActive = cells >= 4 && active >= 2;
	}

	const modals = queryAll(doc, '[role="dialog"], [aria-modal="true"], [class*="modal" i], [id*="modal" i], [class*="overlay" i], [id*="overlay" i], [class*="popup" i], [id*="popup" i], [class*="dialog" i]')
		.filter(visible)
		.filter((m) => { const r = m.getBoundingClientRect(); return r.width * r.height > 20000; });
	if (modals.length) res.modalVisible = true;

	const layers = modals.concat(queryAll(doc, 'h1, h2, h3, [class*="title" i], [class*="message" i]').filter(visible));
	for (const m of layers) {
		const t = lower(textOf(m)).slice(0, 2000);
		const buttons = queryAll(m, clickableSel).filter(visible).map((b) => lower(textOf(b)));
		const btnText = buttons.join(' | ');
		if (modals.includes(m) && /tutorial|welcome|learn|how to play/.test(btnText)) res.tutorial = true;
		if (/level complete|level cleared|stage complete|stage clear|next level|you win|you won/.test(t) ||
			(/continue/.test(t) && /level|stage|win|score/.test(t))) res.levelComplete = true;
		if (/select (a )?level|choose (a )?level|level select|select (your )?character|choose (your )?character|select (a )?stage/.test(t) ||
			buttons.filter((b) => /^\d{1,3}$/.test(b)).length >= 4) res.selectionMenu = true;
		if (/are you (over )?18|age verification|verify your age|date of birth|enter your age/.test(t)) res.ageGate = true;
	}

	if (!res.consent) res.consent = queryAll(doc, scopeSelectors.consent).some((el) => visible(el) && queryAll(el, clickableSel).some(visible));
	if (!res.ageGate) res.ageGate = queryAll(doc, scopeSelectors.age).some(visible);
	if (!res.ad) res.ad = queryAll(doc, scopeSelectors.ad).some((el) => visible(el) && isLayer(el) && !el.querySelector('canvas'));
}
return JSON.stringify(res);
`

const controlsBody = domHelpers + `
const containerSel = scopeSelectors[args.scope] || null;
const seen = new Set();
const out = [];
for (const d of docs()) {
	const roots = containerSel ? queryAll(d.doc, containerSel).filter(visible) : [d.doc];
	for (const root of roots) {
		for (const el of queryAll(root, clickableSel)) {
			if (seen.has(el) || !visible(el)) continue;
			seen.add(el);
			const text = textOf(el);
			if (!text || text.length > 80) continue;
			out.push({
				text: text, tag: el.tagName.toLowerCase(), selector: selectorOf(el),
				inOverlay: inOverlay(el), rect: rectOf(el, d.dx, d.dy), frame: d.index
			});
			if (out.length >= 200) return JSON.stringify(out);
		}
	}
}
return JSON.stringify(out);
`

const framesBody = domHelpers + `
const out = [];
Array.from(document.querySelectorAll('iframe')).forEach((f, i) => {
	if (!visible(f)) return;
	let same = false, hasCanvas = false;
	try {
		const d = f.contentDocument;
		if (d) { same = true; hasCanvas = !!d.querySelector('canvas'); }
	} catch (e) {}
	out.push({index: i + 1, src: f.src || '', selector: selectorOf(f), rect: rectOf(f, 0, 0), sameOrigin: same, hasCanvas: hasCanvas});
});
return JSON.stringify(out);
`

const frameworksBody = domHelpers + `
for (const sel of (args.selectors || [])) {
	for (const d of docs()) {
		const btn = queryAll(d.doc, sel).find(visible);
		if (btn) {
			btn.click();
			return JSON.stringify({clicked: true, tag: btn.tagName.toLowerCase(), reason: sel});
		}
	}
}
return JSON.stringify({clicked: false, reason: 'no framework button'});
`

const hideOverlayBody = domHelpers + `
const sel = scopeSelectors[args.scope];
let removed = 0;
if (sel) {
	for (const d of docs()) {
		for (const el of queryAll(d.doc, sel)) {
			if (!visible(el) || el.querySelector('canvas')) continue;
			if (!isLayer(el) && !inOverlay(el)) continue;
			el.style.setProperty('display', 'none', 'important');
			removed++;
		}
		for (const bd of queryAll(d.doc, '[class*="backdrop" i], [class*="overlay" i]')) {
			if (visible(bd) && isLayer(bd) && !bd.querySelector('canvas') && !textOf(bd)) {
				bd.style.setProperty('display', 'none', 'important');
				removed++;
			}
		}
		if (removed && d.doc.body) d.doc.body.style.overflow = 'auto';
	}
}
return JSON.stringify({removed: removed});
`

const removeAdsBody = `
const adSelectors = [
	'[id*="ad-"]', '[id*="ads-"]', '[class*="ad-"]', '[class*="ads-"]',
	'[id*="banner"]', '[class*="banner"]',
	'[id*="sponsor"]', '[class*="sponsor"]',
	'iframe[src*="doubleclick"]', 'iframe[src*="googlesyndication"]',
	'iframe[src*="advertising"]', 'iframe[src*="/ads/"]',
	'.adsbygoogle', '#aswift', '[id^="google_ads"]',
	'[class*="video-ad"]', '[id*="video-ad"]'
];
let removed = 0;
adSelectors.forEach((selector) => {
	try {
		document.querySelectorAll(selector).forEach((el) => {
			// Keep anything that hosts or sits inside the game.
			if (!el.querySelector('canvas') && !el.closest('[id*="game"]') && !el.closest('[class*="game"]')) {
				el.remove();
				removed++;
			}
		});
	} catch (e) {}
});
return JSON.stringify({removed: removed});
`

const clickTextBody = domHelpers + `
const want = String(args.text || '').replace(/\s+/g, ' ').trim().toLowerCase();
if (!want) return JSON.stringify({clicked: false, reason: 'empty text'});
const candidates = [];
for (const d of docs()) {
	for (const el of queryAll(d.doc, '*')) {
		const text = textOf(el).toLowerCase();
		if (!text || text.length >= 100) continue;
		if (args.exact ? text !== want : !text.includes(want)) continue;
		if (visible(el)) candidates.push({el: el, len: text.length});
	}
}
if (!candidates.length) return JSON.stringify({clicked: false, reason: 'no matching element'});
// Prefer the tightest match: shortest text, then the innermost node.
candidates.sort((a, b) => a.len - b.len || (a.el.contains(b.el) ? 1 : b.el.contains(a.el) ? -1 : 0));
const target = candidates[0].el;
target.scrollIntoView({behavior: 'instant', block: 'center'});
target.click();
return JSON.stringify({clicked: true, tag: target.tagName.toLowerCase()});
`

const clickPointBody = `
let x = args.x, y = args.y;
let el = document.elementFromPoint(x, y);
if (el && el.tagName === 'IFRAME') {
	try {
		const r = el.getBoundingClientRect();
		const inner = el.contentDocument && el.contentDocument.elementFromPoint(x - r.left, y - r.top);
		if (inner) { el = inner; x -= r.left; y -= r.top; }
	} catch (e) {}
}
if (!el) return JSON.stringify({clicked: false, reason: 'no element at point'});
const opts = {view: window, bubbles: true, cancelable: true, clientX: x, clientY: y, button: 0};
if (el.tagName === 'CANVAS') {
	// Canvas games listen for pointer and mouse down/up rather than click.
	el.dispatchEvent(new PointerEvent('pointerdown', Object.assign({pointerType: 'mouse'}, opts)));
	el.dispatchEvent(new MouseEvent('mousedown', opts));
	el.dispatchEvent(new PointerEvent('pointerup', Object.assign({pointerType: 'mouse'}, opts)));
	el.dispatchEvent(new MouseEvent('mouseup', opts));
	el.dispatchEvent(new MouseEvent('click', opts));
} else {
	el.click();
}
return JSON.stringify({clicked: true, tag: el.tagName.toLowerCase()});
`

const rectBody = `
if (!args.selector) {
	return JSON.stringify({x: 0, y: 0, width: window.innerWidth, height: window.innerHeight});
}
let el = null;
try { el = document.querySelector(args.selector); } catch (e) {}
if (!el) return JSON.stringify({x: 0, y: 0, width: 0, height: 0});
const r = el.getBoundingClientRect();
return JSON.stringify({x: r.left, y: r.top, width: r.width, height: r.height});
`

const dispatchKeyBody = `
const legacy = {ArrowUp: 38, ArrowDown: 40, ArrowLeft: 37, ArrowRight: 39, ' ': 32, Enter: 13, Escape: 27, Tab: 9};
const keyCode = legacy[args.key] || (args.key.length === 1 ? args.key.toUpperCase().charCodeAt(0) : 0);
const target = document.querySelector('canvas') || document.activeElement || document.body;
if (target && target.focus) {
	if (target.tagName === 'CANVAS' && !target.hasAttribute('tabindex')) target.setAttribute('tabindex', '0');
	target.focus();
}
const init = {key: args.key, code: args.code, keyCode: keyCode, which: keyCode, bubbles: true, cancelable: true};
target.dispatchEvent(new KeyboardEvent('keydown', init));
window.dispatchEvent(new KeyboardEvent('keydown', init));
setTimeout(() => {
	target.dispatchEvent(new KeyboardEvent('keyup', init));
	window.dispatchEvent(new KeyboardEvent('keyup', init));
}, 50);
return JSON.stringify(true);
`

var probeBodies = map[browser.ProbeName]string{
	browser.ProbeAlive:       aliveBody,
	browser.ProbeSignals:     signalsBody,
	browser.ProbeControls:    controlsBody,
	browser.ProbeFrames:      framesBody,
	browser.ProbeFrameworks:  frameworksBody,
	browser.ProbeHideOverlay: hideOverlayBody,
	browser.ProbeRemoveAds:   removeAdsBody,
	browser.ProbeClickText:   clickTextBody,
	browser.ProbeClickPoint:  clickPointBody,
	browser.ProbeRect:        rectBody,
	browser.ProbeDispatchKey: dispatchKeyBody,
}

// probeScript frames the named probe with its args.
func probeScript(name browser.ProbeName, args any) string {
	return browser.ProbeScript(name, args, probeBodies[name])
}
