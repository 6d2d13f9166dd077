package session

// Page helpers evaluated in the target document. Each is a function
// expression applied to JSON-encoded arguments. Elements found by a heuristic
// are tagged with a data-kp-ref attribute so later calls can address them
// with a plain selector.

const jsExists = `(sel) => !!document.querySelector(sel)`

const jsTag = `(el) => {
  if (!el.dataset.kpRef) {
    window.__kpRef = (window.__kpRef || 0) + 1;
    el.dataset.kpRef = "r" + window.__kpRef;
  }
  return '[data-kp-ref="' + el.dataset.kpRef + '"]';
}`

const jsFindByLabel = `(labels) => {
  const tag = ` + jsTag + `;
  const wanted = labels.map(l => l.toLowerCase());
  for (const label of document.querySelectorAll("label")) {
    const text = (label.innerText || label.textContent || "").trim().toLowerCase();
    if (!text || !wanted.some(w => text.includes(w))) continue;
    const el = label.control
      || (label.htmlFor && document.getElementById(label.htmlFor))
      || label.querySelector("input, textarea, select");
    if (el) return tag(el);
  }
  for (const el of document.querySelectorAll("[aria-labelledby]")) {
    const ref = document.getElementById(el.getAttribute("aria-labelledby"));
    const text = ref ? (ref.innerText || "").toLowerCase() : "";
    if (text && wanted.some(w => text.includes(w))) return tag(el);
  }
  return "";
}`

const jsFindByAttribute = `(keywords) => {
  const tag = ` + jsTag + `;
  const wanted = keywords.map(k => k.toLowerCase());
  for (const el of document.querySelectorAll("input, textarea, select")) {
    if (el.type === "hidden") continue;
    const attrs = ["name", "id", "placeholder", "aria-label"]
      .map(a => (el.getAttribute(a) || "").toLowerCase()).join(" ");
    if (wanted.some(w => attrs.includes(w))) return tag(el);
  }
  return "";
}`

const jsPrepareInput = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.scrollIntoView({ block: "center" });
  el.focus();
  if (typeof el.select === "function") el.select();
  if ("value" in el) {
    el.value = "";
    el.dispatchEvent(new Event("input", { bubbles: true }));
  }
  return true;
}`

const jsValue = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return null;
  return "value" in el ? String(el.value) : (el.textContent || "");
}`

const jsSetValue = `(sel, value) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  const proto = Object.getPrototypeOf(el);
  const desc = Object.getOwnPropertyDescriptor(proto, "value");
  if (desc && desc.set) desc.set.call(el, value); else el.value = value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
}`

const jsClick = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.scrollIntoView({ block: "center" });
  el.click();
  return true;
}`

const jsClickByText = `(texts) => {
  const candidates = document.querySelectorAll("button, a, [role='button'], input[type='submit']");
  for (const t of texts) {
    for (const el of candidates) {
      const label = (el.innerText || el.value || "").trim();
      if (!label.includes(t) || el.disabled) continue;
      const r = el.getBoundingClientRect();
      if (r.width === 0 && r.height === 0) continue;
      el.scrollIntoView({ block: "center" });
      el.click();
      return label;
    }
  }
  return "";
}`

const jsText = `() => document.body ? document.body.innerText : ""`

const jsTextOf = `(sel) => {
  const el = document.querySelector(sel);
  return el ? (el.innerText || el.textContent || "") : null;
}`

const jsSatisfyRequired = `() => {
  let n = 0;
  for (const s of document.querySelectorAll("select[required]")) {
    if (s.value) continue;
    const opt = Array.from(s.options).find(o => o.value && !o.disabled);
    if (opt) {
      s.value = opt.value;
      s.dispatchEvent(new Event("change", { bubbles: true }));
      n++;
    }
  }
  for (const c of document.querySelectorAll("input[type='checkbox'][required]")) {
    if (!c.checked && !c.disabled) { c.click(); n++; }
  }
  const groups = {};
  for (const r of document.querySelectorAll("input[type='radio'][required]")) {
    (groups[r.name] = groups[r.name] || []).push(r);
  }
  for (const name in groups) {
    const radios = groups[name];
    if (radios.some(r => r.checked)) continue;
    const first = radios.find(r => !r.disabled);
    if (first) { first.click(); n++; }
  }
  return n;
}`

const jsFormErrors = `() => {
  const sels = ["[role='alert']", "[data-testid*='error']", ".error", ".error-message", ".form-error", ".validation-error"];
  const out = [];
  for (const el of document.querySelectorAll(sels.join(", "))) {
    const t = (el.innerText || "").trim();
    if (t && !out.includes(t)) out.push(t);
  }
  return out;
}`

const jsSubmitForm = `() => {
  const form = document.querySelector("#adForm") || document.querySelector("form");
  if (!form) return false;
  if (typeof form.requestSubmit === "function") form.requestSubmit(); else form.submit();
  return true;
}`
